// Package tools contains the built-in capabilities.
//
// Retrieval tools (query, aggregate) read from a KnowledgeBase passed as the
// "knowledge_base" service handle; they report themselves unavailable when no
// such handle is configured. Text tools end the run. Post-processing tools
// (summarise_items, visualise) consume Results already in the Environment.
package tools

// KnowledgeBaseHandle is the service handle name retrieval tools look up.
const KnowledgeBaseHandle = "knowledge_base"
