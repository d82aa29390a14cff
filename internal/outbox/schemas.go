package outbox

const activitySyncedSchema = `{
  "type": "object",
  "title": "ActivitySynced",
  "properties": {
    "owner_id": {"type": "string"},
    "activities": {"type": "integer"},
    "enriched_count": {"type": "integer"},
    "run_count": {"type": "integer"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["owner_id", "activities", "enriched_count", "run_count", "occurred_at"],
  "additionalProperties": false
}`

const activityTaggedSchema = `{
  "type": "object",
  "title": "ActivityTagged",
  "properties": {
    "owner_id": {"type": "string"},
    "activity_id": {"type": "string"},
    "tag": {"type": "string"},
    "tagged_by": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["owner_id", "activity_id", "tag", "tagged_by", "occurred_at"],
  "additionalProperties": false
}`
