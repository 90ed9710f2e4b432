package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, carried on the context logger through a call chain.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldRunID identifies one grading progress run
	FieldRunID = "run_id"

	// FieldJobID is the backend-assigned grading job ID
	FieldJobID = "job_id"

	// FieldPhase is the grading phase being executed
	FieldPhase = "phase"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldStudentID is the student the job is graded for
	FieldStudentID = "student_id"
)

// Metric fields, attached through the Entry API for aggregation.
const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldTotalMs is the wall-clock duration of a whole run in milliseconds
	FieldTotalMs = "total_ms"

	// FieldSize is the data size in bytes
	FieldSize = "size"

	// FieldStatus is the operation status
	FieldStatus = "status"
)
