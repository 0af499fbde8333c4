package telemetry

import "go.opentelemetry.io/otel/attribute"

var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")
	AttrPromptChars = attribute.Key("llm.prompt_chars")
	AttrOutputChars = attribute.Key("llm.output_chars")

	AttrEmbedTextCount  = attribute.Key("embedding.text_count")
	AttrEmbedDimensions = attribute.Key("embedding.dimensions")

	AttrRetrievalMode      = attribute.Key("retrieval.mode")
	AttrRetrievalRequested = attribute.Key("retrieval.requested_mode")
	AttrRetrievalTopK      = attribute.Key("retrieval.top_k")
	AttrRetrievalResults   = attribute.Key("retrieval.results")
	AttrRetrievalDocument  = attribute.Key("retrieval.document")

	AttrStatus = attribute.Key("status")
)
