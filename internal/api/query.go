package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/protatlas/server/internal/atlas"
	"github.com/protatlas/server/internal/service"
)

// parseGeneSelection reads the `genes` query parameter. It accepts repeated
// parameters (?genes=TP53&genes=ALB), a JSON array (?genes=["TP53","ALB"])
// or a comma-separated list (?genes=TP53,ALB).
func parseGeneSelection(query url.Values) []string {
	rawValues, present := query["genes"]
	if !present {
		return nil
	}

	if len(rawValues) > 1 {
		out := make([]string, 0, len(rawValues))
		for _, v := range rawValues {
			out = append(out, splitGenes(v)...)
		}
		return out
	}

	raw := strings.TrimSpace(rawValues[0])
	if strings.HasPrefix(raw, "[") {
		var genes []string
		if err := json.Unmarshal([]byte(raw), &genes); err == nil {
			return trimAll(genes)
		}
		// Fall through to comma-separated parsing for tolerance.
	}
	return splitGenes(raw)
}

func splitGenes(raw string) []string {
	return trimAll(strings.Split(raw, ","))
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// parseMatrixQuery reads genes, grouping and scale from query parameters.
func parseMatrixQuery(query url.Values) (service.MatrixQuery, error) {
	return buildMatrixQuery(parseGeneSelection(query), query.Get("grouping"), query.Get("scale"))
}

func buildMatrixQuery(genes []string, grouping, scale string) (service.MatrixQuery, error) {
	q := service.MatrixQuery{Genes: genes}
	var err error
	if q.Grouping, err = atlas.ParseGrouping(grouping); err != nil {
		return q, err
	}
	if q.Scale, err = atlas.ParseScale(scale); err != nil {
		return q, err
	}
	return q, nil
}

const maxMatrixBodyBytes = 64 << 10 // 64 KiB

// matrixBody is the JSON payload of POST /matrix. Genes may be an array or
// a comma-separated string.
type matrixBody struct {
	Genes    json.RawMessage `json:"genes"`
	Grouping string          `json:"grouping"`
	Scale    string          `json:"scale"`
}

// parseMatrixRequest reads a matrix query from the URL, or for POST from a
// JSON or form-encoded body.
func parseMatrixRequest(r *http.Request) (service.MatrixQuery, error) {
	if r.Method != http.MethodPost || r.Body == nil {
		return parseMatrixQuery(r.URL.Query())
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMatrixBodyBytes+1))
	if err != nil {
		return service.MatrixQuery{}, err
	}
	if len(body) > maxMatrixBodyBytes {
		return service.MatrixQuery{}, errors.New("request body too large")
	}

	raw := bytes.TrimSpace(body)
	if len(raw) == 0 {
		return parseMatrixQuery(r.URL.Query())
	}

	if raw[0] == '{' {
		var payload matrixBody
		if err := json.Unmarshal(raw, &payload); err != nil {
			return service.MatrixQuery{}, fmt.Errorf("invalid JSON body: %w", err)
		}
		genes, err := decodeGenes(payload.Genes)
		if err != nil {
			return service.MatrixQuery{}, err
		}
		return buildMatrixQuery(genes, payload.Grouping, payload.Scale)
	}

	// Form-encoded bodies: genes=TP53&genes=ALB&grouping=organ
	q, err := url.ParseQuery(string(raw))
	if err != nil {
		return service.MatrixQuery{}, fmt.Errorf("invalid form body: %w", err)
	}
	return parseMatrixQuery(q)
}

func decodeGenes(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var genes []string
	if err := json.Unmarshal(raw, &genes); err == nil {
		return trimAll(genes), nil
	}
	var list string
	if err := json.Unmarshal(raw, &list); err == nil {
		return splitGenes(list), nil
	}
	return nil, errors.New("genes must be an array or a comma-separated string")
}
