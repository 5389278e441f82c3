// Package records converts QA record files into documents for embedding.
//
// Two JSON shapes are understood. Test case files carry a "tickets" array
// whose entries each hold "test_cases"; performance files carry
// "test_metadata" and a "requests" array of per-endpoint results.
package records

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"

	"github.com/nickcecere/qitops/internal/store"
)

// Kind identifies the shape of a record file.
type Kind string

const (
	KindTestCases   Kind = "test_cases"
	KindPerformance Kind = "performance"
	KindUnknown     Kind = "unknown"
)

// ErrInvalidJSON is returned for content that is not a JSON object.
var ErrInvalidJSON = errors.New("invalid JSON record")

// DetectKind identifies a record file from its top-level keys.
func DetectKind(data []byte) Kind {
	root := gjson.ParseBytes(data)
	switch {
	case root.Get("tickets").Exists():
		return KindTestCases
	case root.Get("test_metadata").Exists(), root.Get("requests").Exists():
		return KindPerformance
	default:
		return KindUnknown
	}
}

// ToDocuments converts record JSON into documents.
// A file may hold both tickets and requests; unknown shapes yield none.
func ToDocuments(data []byte) ([]store.Document, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidJSON
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: top level is not an object", ErrInvalidJSON)
	}

	var docs []store.Document
	docs = append(docs, testCaseDocuments(root)...)
	docs = append(docs, performanceDocuments(root)...)
	return docs, nil
}

// testCaseDocuments flattens tickets[].test_cases[] into one document per case.
func testCaseDocuments(root gjson.Result) []store.Document {
	var docs []store.Document

	root.Get("tickets").ForEach(func(_, ticket gjson.Result) bool {
		key := ticket.Get("key").String()

		ticket.Get("test_cases").ForEach(func(_, tc gjson.Result) bool {
			id := tc.Get("id").String()
			if id == "" {
				log.Debug("Skipping test case without id", "ticket", key)
				return true
			}

			docs = append(docs, store.Document{
				Kind:    store.KindTestCase,
				Content: fmt.Sprintf("Test case %s: %s", id, tc.Get("description").String()),
				Metadata: map[string]any{
					"ticket":   key,
					"category": tc.Get("category").String(),
					"priority": tc.Get("priority").String(),
				},
			})
			return true
		})
		return true
	})

	return docs
}

// performanceDocuments produces one document per endpoint result.
func performanceDocuments(root gjson.Result) []store.Document {
	var docs []store.Document

	root.Get("requests").ForEach(func(_, req gjson.Result) bool {
		endpoint := req.Get("endpoint").String()
		method := req.Get("method").String()
		if endpoint == "" {
			log.Debug("Skipping performance result without endpoint")
			return true
		}

		total := req.Get("total_requests").Float()
		var successRate, errorRate float64
		if total > 0 {
			successRate = req.Get("success_count").Float() / total
			errorRate = req.Get("error_count").Float() / total
		}

		metadata := map[string]any{
			"endpoint":       endpoint,
			"method":         method,
			"success_rate":   successRate,
			"error_rate":     errorRate,
			"avg_response":   req.Get("average_response_time_ms").Float(),
			"throughput_rps": req.Get("throughput_rps").Float(),
		}

		req.Get("percentiles").ForEach(func(k, v gjson.Result) bool {
			metadata[percentileKey(k.String())] = v.Float()
			return true
		})

		docs = append(docs, store.Document{
			Kind:     store.KindPerformanceTest,
			Content:  fmt.Sprintf("Performance test on %s (%s)", endpoint, method),
			Metadata: metadata,
		})
		return true
	})

	return docs
}

// percentileKey maps "95th" to "p95".
func percentileKey(name string) string {
	for _, suffix := range []string{"st", "nd", "rd", "th"} {
		if trimmed, ok := strings.CutSuffix(name, suffix); ok && trimmed != "" {
			return "p" + trimmed
		}
	}
	return "p" + strings.TrimPrefix(name, "p")
}

// File is one loaded record file.
type File struct {
	Path      string
	Hash      string
	Kind      Kind
	Documents []store.Document
}

// Load reads and converts the record file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse converts record content that was read from path.
func Parse(path string, data []byte) (*File, error) {
	docs, err := ToDocuments(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return &File{
		Path:      path,
		Hash:      HashContent(data),
		Kind:      DetectKind(data),
		Documents: docs,
	}, nil
}
