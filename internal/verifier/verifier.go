// Package verifier routes natural-language claims to the correct evidence
// partition and formats what comes back for the conversational model.
// Every operation has a total contract: backend outages, missing
// partitions, and empty result sets all come back as descriptive text,
// never as errors. An interview must not stall on a retrieval outage.
package verifier

import (
	"context"
	"log/slog"
	"strings"

	"github.com/veristep/viva/internal/retrieval"
)

const (
	userTopK      = 5
	referenceTopK = 3
)

// Sentinel messages returned instead of evidence. Exported so the tool
// layer and tests can match on them.
const (
	MsgUserPartitionUnavailable = "No user partition configured - unable to access user documents."
	MsgBackendUnavailable       = "Unable to access documents right now. Continue the interview and note the verification gap."
	MsgReferenceNoMatch         = "No relevant information found in reference materials."
)

// Searcher abstracts the retrieval service for the verifier.
type Searcher interface {
	Retrieve(ctx context.Context, q retrieval.Query) ([]retrieval.ScoredChunk, error)
}

// Verifier queries per-session evidence partitions.
type Verifier struct {
	search          Searcher
	userPartition   string
	globalPartition string
	logger          *slog.Logger
}

// New creates a Verifier. userPartition may be empty when the applicant
// has no private partition; lookups then return an unavailable sentinel
// without touching the network.
func New(search Searcher, userPartition, globalPartition string) *Verifier {
	return &Verifier{
		search:          search,
		userPartition:   userPartition,
		globalPartition: globalPartition,
		logger:          slog.Default(),
	}
}

// LookupUserDocuments searches the applicant's private partition for
// evidence about a claim. Hints restrict the search to documents whose
// internal name is in the set.
func (v *Verifier) LookupUserDocuments(ctx context.Context, claim string, hints []string) string {
	if v.userPartition == "" {
		return MsgUserPartitionUnavailable
	}

	chunks, err := v.search.Retrieve(ctx, retrieval.Query{
		Query:     claim,
		Partition: v.userPartition,
		TopK:      userTopK,
		Filter:    retrieval.FilterByInternalNames(hints),
	})
	if err != nil {
		v.logger.Warn("user document lookup failed", "partition", v.userPartition, "error", err)
		return MsgBackendUnavailable
	}

	if len(chunks) == 0 {
		if len(hints) > 0 {
			return "No information found in the following document types: " + strings.Join(hints, ", ") +
				". The applicant may not have uploaded these documents, or the information is not present in those specific documents."
		}
		return "No relevant information found in the applicant's uploaded documents. They may not have uploaded the necessary documents yet."
	}

	return "Information from applicant's documents:\n" + formatChunks(chunks)
}

// LookupReferenceDocuments searches the shared reference partition for
// visa guidelines and requirements relevant to a claim.
func (v *Verifier) LookupReferenceDocuments(ctx context.Context, claim string) string {
	chunks, err := v.search.Retrieve(ctx, retrieval.Query{
		Query:     claim,
		Partition: v.globalPartition,
		TopK:      referenceTopK,
	})
	if err != nil {
		v.logger.Warn("reference lookup failed", "partition", v.globalPartition, "error", err)
		return MsgBackendUnavailable
	}

	if len(chunks) == 0 {
		return MsgReferenceNoMatch
	}

	return "Visa regulations and requirements:\n" + formatChunks(chunks)
}

func formatChunks(chunks []retrieval.ScoredChunk) string {
	parts := make([]string, len(chunks))
	for i, ch := range chunks {
		parts[i] = "[" + ch.SourceLabel + "]: " + ch.Text
	}
	return strings.Join(parts, "\n\n")
}
