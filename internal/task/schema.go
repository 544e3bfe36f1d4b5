package task

import (
	"github.com/kazz187/cardflow/pkg/validation"
)

// payloadSchemas constrain the fields the scheduler itself reads from a
// payload. Everything else in a payload is opaque and passed to the worker.
var payloadSchemas = map[Type]string{
	TypeAgentRun: `{"type": "object"}`,
	TypeBoardPlan: `{
		"type": "object",
		"properties": {
			"auto_generate_cards": {"type": "boolean"},
			"goal": {"type": "string"}
		}
	}`,
	TypeCardGen: `{
		"type": "object",
		"properties": {
			"plan_task_id": {"type": "string"},
			"target_column_id": {"type": "string"}
		}
	}`,
	TypeGitlabPush: `{
		"type": "object",
		"properties": {
			"source_task_id": {"type": "string"},
			"branch": {"type": "string", "minLength": 1}
		}
	}`,
	TypeGitlabImport: `{
		"type": "object",
		"properties": {
			"project": {"type": "string", "minLength": 1}
		}
	}`,
	TypeJiraSync: `{
		"type": "object",
		"properties": {
			"column_id": {"type": "string"},
			"column_name": {"type": "string"}
		}
	}`,
}

// NewPayloadSchemas compiles the payload schema of every task type.
func NewPayloadSchemas() (*validation.SchemaSet, error) {
	set := validation.NewSchemaSet()
	for t, schema := range payloadSchemas {
		if err := set.Add(string(t), schema); err != nil {
			return nil, err
		}
	}
	return set, nil
}
