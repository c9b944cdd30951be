package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE graphs (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				latest_version INTEGER NOT NULL,
				active BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_graphs_active ON graphs(active);

			-- Versions are append-only.
			CREATE TABLE graph_versions (
				graph_id VARCHAR(255) NOT NULL REFERENCES graphs(id) ON DELETE CASCADE,
				version INTEGER NOT NULL,
				definition JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (graph_id, version)
			);
		`,
		2: `
			CREATE TABLE runs (
				id VARCHAR(255) PRIMARY KEY,
				graph_id VARCHAR(255) NOT NULL,
				graph_version INTEGER NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'suspended', 'completed', 'failed', 'cancelled')),
				resume_at TIMESTAMP WITH TIME ZONE,
				revision BIGINT NOT NULL,
				record JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_runs_graph_id ON runs(graph_id);
			CREATE INDEX idx_runs_status ON runs(status);
			CREATE INDEX idx_runs_suspended_resume_at ON runs(resume_at) WHERE status = 'suspended';
		`,
	}
}
