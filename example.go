package mangaba

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidExampleRef = errors.New("invalid example reference, it must be a key like \"vendas\" or \"okrs_planejamento\"")
	ErrUnknownExample    = errors.New("unknown example")
)

// DefaultExamples maps the example keys offered by the wizard to the files
// the backend serves under /data.
var DefaultExamples = map[string]string{
	"produtos":                 "produtos.json",
	"usuarios":                 "usuarios.json",
	"vendas":                   "vendas.json",
	"tarefas":                  "tarefas.json",
	"planejamento_estrategico": "planejamento_estrategico.json",
	"analise_concorrencia":     "analise_concorrencia.json",
	"okrs_planejamento":        "okrs_planejamento.json",
	"burger_king_brasil":       "burger_king_brasil.json",
}

var exampleKeyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ParseExampleRef normalizes s into an example key. A trailing ".json" is
// accepted and removed.
func ParseExampleRef(s string) (ExampleRef, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.TrimSuffix(key, ".json")
	if !exampleKeyPattern.MatchString(key) {
		return "", ErrInvalidExampleRef
	}

	return ExampleRef(key), nil
}

func (e ExampleRef) String() string {
	return string(e)
}

// Examples lists the keys of the client's example catalog in order.
func (r *Client) Examples() []ExampleRef {
	refs := make([]ExampleRef, 0, len(r.options.exampleFiles))
	for key := range r.options.exampleFiles {
		refs = append(refs, ExampleRef(key))
	}
	slices.Sort(refs)
	return refs
}

// ExampleFile names the file the backend serves for ref.
func (r *Client) ExampleFile(ref ExampleRef) (string, error) {
	return r.exampleFile(ref)
}

func (r *Client) exampleFile(ref ExampleRef) (string, error) {
	file, ok := r.options.exampleFiles[string(ref)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownExample, string(ref))
	}
	return file, nil
}

// GetExample fetches the example data for ref, compacted to a single line.
func (r *Client) GetExample(ctx context.Context, ref ExampleRef) (json.RawMessage, error) {
	file, err := r.exampleFile(ref)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := r.fetch(ctx, http.MethodGet, "/data/"+file, nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to get example %s: %w", ref, err)
	}

	compact := &bytes.Buffer{}
	if err := json.Compact(compact, raw); err != nil {
		return nil, fmt.Errorf("failed to compact example %s: %w", ref, err)
	}

	return compact.Bytes(), nil
}

// GetExamples fetches several examples concurrently. It fails if any one
// of them cannot be fetched.
func (r *Client) GetExamples(ctx context.Context, refs ...ExampleRef) (map[ExampleRef]json.RawMessage, error) {
	var mu sync.Mutex
	examples := make(map[ExampleRef]json.RawMessage, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, ref := range refs {
		g.Go(func() error {
			data, err := r.GetExample(gctx, ref)
			if err != nil {
				return err
			}

			mu.Lock()
			examples[ref] = data
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return examples, nil
}
