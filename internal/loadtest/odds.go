// Package loadtest dispara lotes de odds contra POST /odds e resume o resultado.
package loadtest

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/betting-core-api/internal/core-api/dto"
)

type Options struct {
	BaseURL     string
	APIKey      string
	BookmakerID string
	SelectionID string
	MatchID     string
	Total       int
	Batch       int
	Concurrency int
	Start       time.Time
	Timeout     time.Duration
	Seed        uint64
}

// Report agrega os lotes enviados
type Report struct {
	Batches  int
	OK       int
	Inserted int
	Updated  int
	Statuses map[int]int
	Elapsed  time.Duration
	Worst    time.Duration
}

// ItemsPerSecond considera todos os itens enviados, aceitos ou não
func (r Report) ItemsPerSecond(total int) float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(total) / r.Elapsed.Seconds()
}

func (r Report) String() string {
	return fmt.Sprintf("POST /odds batches: %d/%d OK\nInserted: %d, Updated: %d\nTotal time: %s, worst batch: %s",
		r.OK, r.Batches, r.Inserted, r.Updated, r.Elapsed.Round(time.Millisecond), r.Worst.Round(time.Millisecond))
}

// MakeBatch gera size itens com captured_at crescente a partir de start+offset segundos
func MakeBatch(rng *rand.Rand, o Options, offset, size int) dto.OddsBulkRequest {
	base := o.Start.Add(time.Duration(offset) * time.Second)
	items := make([]dto.OddsItem, 0, size)
	source := "loadtest"
	for i := 0; i < size; i++ {
		prob := round(0.40+rng.Float64()*0.20, 6)
		items = append(items, dto.OddsItem{
			MatchID:     o.MatchID,
			BookmakerID: o.BookmakerID,
			SelectionID: o.SelectionID,
			Price:       round(1.80+rng.Float64()*0.40, 4),
			Probability: &prob,
			CapturedAt:  base.Add(time.Duration(i) * time.Second).UTC(),
			Source:      &source,
		})
	}
	return dto.OddsBulkRequest{Items: items}
}

// Run envia ceil(Total/Batch) lotes com no máximo Concurrency requests simultâneos
func Run(ctx context.Context, client *resty.Client, o Options) (Report, error) {
	if o.Batch <= 0 || o.Total <= 0 {
		return Report{}, fmt.Errorf("total and batch must be positive")
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.Start.IsZero() {
		o.Start = time.Now().UTC()
	}
	batches := (o.Total + o.Batch - 1) / o.Batch

	var (
		mu  sync.Mutex
		rep = Report{Batches: batches, Statuses: map[int]int{}}
		rng = rand.New(rand.NewPCG(o.Seed, o.Seed^0x9e3779b97f4a7c15))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Concurrency)
	started := time.Now()
	for b := 0; b < batches; b++ {
		offset := b * o.Batch
		size := min(o.Batch, o.Total-offset)

		mu.Lock()
		payload := MakeBatch(rng, o, offset, size)
		mu.Unlock()

		g.Go(func() error {
			var out dto.UpsertResponse
			t0 := time.Now()
			resp, err := client.R().
				SetContext(gctx).
				SetHeader("X-API-Key", o.APIKey).
				SetBody(payload).
				SetResult(&out).
				Post("/odds")
			dt := time.Since(t0)
			if err != nil {
				return fmt.Errorf("post batch at offset %d: %w", offset, err)
			}

			mu.Lock()
			defer mu.Unlock()
			rep.Statuses[resp.StatusCode()]++
			rep.Worst = max(rep.Worst, dt)
			if resp.StatusCode() == http.StatusOK {
				rep.OK++
				rep.Inserted += out.Inserted
				rep.Updated += out.Updated
			}
			return nil
		})
	}
	err := g.Wait()
	rep.Elapsed = time.Since(started)
	return rep, err
}

// NewClient cria o cliente resty com base URL e timeout por request
func NewClient(o Options) *resty.Client {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return resty.New().
		SetBaseURL(o.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
