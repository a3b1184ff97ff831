package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create workflow_runs table
			CREATE TABLE workflow_runs (
				id VARCHAR(64) PRIMARY KEY,
				alert_id VARCHAR(255) NOT NULL,
				definition VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('running', 'completed', 'failed')),
				error TEXT,
				steps JSONB NOT NULL DEFAULT '[]',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_workflow_runs_alert_id ON workflow_runs(alert_id);
			CREATE INDEX idx_workflow_runs_status ON workflow_runs(status);
			CREATE INDEX idx_workflow_runs_started_at ON workflow_runs(started_at);
		`,
		2: `
			-- Append-only audit trail, partitioned by UTC day of the write
			CREATE TABLE audit_entries (
				id BIGSERIAL PRIMARY KEY,
				partition_day DATE NOT NULL,
				timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
				event_type VARCHAR(20) NOT NULL CHECK (event_type IN ('action', 'decision')),
				actor VARCHAR(255) NOT NULL,
				action VARCHAR(255),
				decision VARCHAR(255),
				input JSONB,
				output JSONB,
				status VARCHAR(50),
				metadata JSONB,
				correlation_id VARCHAR(64),
				reasoning TEXT,
				confidence DOUBLE PRECISION
			);

			CREATE INDEX idx_audit_entries_correlation_id ON audit_entries(correlation_id);
			CREATE INDEX idx_audit_entries_partition_day ON audit_entries(partition_day);

			CREATE FUNCTION audit_entries_append_only() RETURNS trigger AS $$
			BEGIN
				RAISE EXCEPTION 'audit_entries is append-only';
			END;
			$$ LANGUAGE plpgsql;

			CREATE TRIGGER audit_entries_no_rewrite
				BEFORE UPDATE OR DELETE ON audit_entries
				FOR EACH ROW EXECUTE FUNCTION audit_entries_append_only();
		`,
	}
}
