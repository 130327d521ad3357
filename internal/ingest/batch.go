package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/veeduria-co/warroom-cli/internal/model"
)

// BatchResult summarizes a batch run. Malformed or unknown-mesa
// submissions are counted and logged, never abort the batch.
type BatchResult struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	Failed   int `json:"failed"`
}

// IngestFile reads submissions from a file (a JSON array or one JSON
// object per line) and pipes them through the engine with bounded
// concurrency. Per-mesa ordering is preserved by the engine's lock.
func (e *Engine) IngestFile(ctx context.Context, path string, maxConcurrent int) (*BatchResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close()

	subs, err := decodeSubmissions(f)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: parse %s", path)
	}
	return e.IngestAll(ctx, subs, maxConcurrent)
}

// IngestAll runs the pipeline over a slice of submissions concurrently.
func (e *Engine) IngestAll(ctx context.Context, subs []Submission, maxConcurrent int) (*BatchResult, error) {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	var (
		mu  sync.Mutex
		res BatchResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	for i := range subs {
		sub := subs[i]
		g.Go(func() error {
			_, err := e.Ingest(gctx, &sub)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				res.Accepted++
			case eris.Is(err, model.ErrMalformedRecord) || eris.Is(err, model.ErrUnknownMesa):
				res.Rejected++
				zap.L().Warn("submission rejected",
					zap.String("mesa", sub.MesaCode),
					zap.String("source", sub.Source),
					zap.Error(err))
			default:
				// Infrastructure failure: count it and keep draining, the
				// operator decides whether to replay the file.
				res.Failed++
				zap.L().Error("submission failed",
					zap.String("mesa", sub.MesaCode),
					zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	zap.L().Info("batch ingest finished",
		zap.Int("accepted", res.Accepted),
		zap.Int("rejected", res.Rejected),
		zap.Int("failed", res.Failed))
	return &res, nil
}

func decodeSubmissions(r io.Reader) ([]Submission, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(1)
	if err != nil {
		return nil, eris.Wrap(err, "empty input")
	}

	if head[0] == '[' {
		var subs []Submission
		if err := json.NewDecoder(br).Decode(&subs); err != nil {
			return nil, err
		}
		return subs, nil
	}

	var subs []Submission
	scanner := bufio.NewScanner(br)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var sub Submission
		if err := json.Unmarshal([]byte(line), &sub); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, scanner.Err()
}
