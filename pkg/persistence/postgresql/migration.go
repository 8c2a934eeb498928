package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Append-only workflow histories
			CREATE TABLE workflow_events (
				instance_id VARCHAR(255) NOT NULL,
				sequence_number BIGINT NOT NULL CHECK (sequence_number > 0),
				kind VARCHAR(64) NOT NULL,
				payload JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (instance_id, sequence_number)
			);

			CREATE INDEX idx_workflow_events_kind ON workflow_events(kind);
		`,
		2: `
			-- Durable due-time index
			CREATE TABLE workflow_timers (
				id VARCHAR(512) PRIMARY KEY,
				instance_id VARCHAR(255) NOT NULL,
				purpose VARCHAR(64) NOT NULL,
				fire_at TIMESTAMP WITH TIME ZONE NOT NULL,
				cancelled BOOLEAN NOT NULL DEFAULT FALSE,
				fired BOOLEAN NOT NULL DEFAULT FALSE,
				fired_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_timers_instance_id ON workflow_timers(instance_id);
			CREATE INDEX idx_workflow_timers_due ON workflow_timers(fire_at) WHERE NOT cancelled AND NOT fired;
		`,
	}
}
