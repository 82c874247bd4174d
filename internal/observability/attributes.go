package observability

import "go.opentelemetry.io/otel/attribute"

// Attribute keys.
const (
	AttrJobID      = "genstudio.job.id"
	AttrProvider   = "genstudio.provider"
	AttrKind       = "genstudio.kind"
	AttrModel      = "genstudio.model"
	AttrStatus     = "genstudio.status"
	AttrErrorCode  = "genstudio.error_code"
	AttrSource     = "genstudio.source"
	AttrRunID      = "genstudio.run.id"
	AttrStageOrder = "genstudio.stage.order"
)

// JobIDAttr returns the job id attribute.
func JobIDAttr(id string) attribute.KeyValue { return attribute.String(AttrJobID, id) }

// ProviderAttr returns the provider attribute.
func ProviderAttr(name string) attribute.KeyValue { return attribute.String(AttrProvider, name) }

// KindAttr returns the generation kind attribute.
func KindAttr(kind string) attribute.KeyValue { return attribute.String(AttrKind, kind) }

// ModelAttr returns the model attribute.
func ModelAttr(model string) attribute.KeyValue { return attribute.String(AttrModel, model) }

// StatusAttr returns the job status attribute.
func StatusAttr(status string) attribute.KeyValue { return attribute.String(AttrStatus, status) }

// ErrorCodeAttr returns the error code attribute.
func ErrorCodeAttr(code string) attribute.KeyValue { return attribute.String(AttrErrorCode, code) }

// SourceAttr names which path observed a completion (poll, webhook, submit).
func SourceAttr(source string) attribute.KeyValue { return attribute.String(AttrSource, source) }

// RunIDAttr returns the pipeline run id attribute.
func RunIDAttr(id string) attribute.KeyValue { return attribute.String(AttrRunID, id) }

// StageOrderAttr returns the pipeline stage order attribute.
func StageOrderAttr(order int) attribute.KeyValue { return attribute.Int(AttrStageOrder, order) }
