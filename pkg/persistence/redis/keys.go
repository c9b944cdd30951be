package redis

import (
	"strconv"

	"github.com/nexuspro/flows/pkg/models"
)

// All keys are prefixed with "flows:".
const keyPrefix = "flows:"

// graphStateKey is the Hash holding the mutable graph record: flows:graph:{id}
func graphStateKey(id string) string { return keyPrefix + "graph:" + id }

// graphVersionKey holds one immutable JSON definition: flows:graph:{id}:v{n}
func graphVersionKey(id string, version int) string {
	return graphStateKey(id) + ":v" + strconv.Itoa(version)
}

// graphIDsKey is the Set tracking all graph IDs for enumeration.
const graphIDsKey = keyPrefix + "graph_ids"

// runKey is the Hash holding a run record and its revision: flows:run:{id}
func runKey(id string) string { return keyPrefix + "run:" + id }

// runIDsKey is the Set tracking all run IDs.
const runIDsKey = keyPrefix + "run_ids"

// runStatusKey is the Set of run IDs in one status.
func runStatusKey(status models.RunStatus) string { return keyPrefix + "runs:status:" + string(status) }

// runGraphKey is the Set of run IDs started from one graph.
func runGraphKey(graphID string) string { return keyPrefix + "runs:graph:" + graphID }

// suspendedKey is the Sorted Set of suspended run IDs scored by resume time.
const suspendedKey = keyPrefix + "runs:suspended"
