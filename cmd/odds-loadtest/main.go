// Command odds-loadtest envia odds em lotes para POST /odds e imprime o resumo.
//
// Usage:
//
//	odds-loadtest --bookmaker-id <uuid> --selection-id <uuid> --total 10000 --batch 1000 --conc 4
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/radieske/betting-core-api/internal/loadtest"
)

type CLI struct {
	API         string        `help:"Base URL da API." default:"http://localhost:8000" env:"API"`
	APIKey      string        `name:"api-key" help:"Valor do header X-API-Key." env:"API_KEY"`
	BookmakerID string        `name:"bookmaker-id" help:"bookmaker_id existente." required:"" env:"BOOKMAKER_ID"`
	SelectionID string        `name:"selection-id" help:"selection_id existente." required:"" env:"SELECTION_ID"`
	MatchID     string        `name:"match-id" help:"match_id dos snapshots." default:"m-loadtest" env:"MATCH_ID"`
	Total       int           `help:"Total de itens." default:"10000" env:"TOTAL"`
	Batch       int           `help:"Itens por request." default:"1000" env:"BATCH"`
	Conc        int           `help:"Requests simultâneos." default:"4" env:"CONC"`
	Start       time.Time     `help:"captured_at inicial (RFC3339); padrão agora." env:"START_ISO"`
	Timeout     time.Duration `help:"Timeout por request." default:"120s"`
	Seed        uint64        `help:"Semente dos preços gerados." default:"1"`
}

func (c *CLI) Run(ctx context.Context) error {
	o := loadtest.Options{
		BaseURL:     c.API,
		APIKey:      c.APIKey,
		BookmakerID: c.BookmakerID,
		SelectionID: c.SelectionID,
		MatchID:     c.MatchID,
		Total:       c.Total,
		Batch:       c.Batch,
		Concurrency: c.Conc,
		Start:       c.Start,
		Timeout:     c.Timeout,
		Seed:        c.Seed,
	}
	rep, err := loadtest.Run(ctx, loadtest.NewClient(o), o)
	if err != nil {
		return err
	}
	fmt.Println(rep)
	fmt.Printf("Items/s: %.0f, statuses: %v\n", rep.ItemsPerSecond(o.Total), rep.Statuses)
	if rep.OK != rep.Batches {
		return fmt.Errorf("%d of %d batches failed", rep.Batches-rep.OK, rep.Batches)
	}
	return nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("odds-loadtest"),
		kong.Description("Load test for POST /odds."),
		kong.UsageOnError(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.FatalIfErrorf(kctx.Run())
}
