package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mevdschee/tqorm/builder"
	"github.com/mevdschee/tqorm/cache"
	"github.com/mevdschee/tqorm/client"
	"github.com/mevdschee/tqorm/writebatch"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const demoTable = "demo_pages"

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Count page hits through a change manager",
	Long: `Creates the demo_pages table, records hits on a set of pages through a
write-behind change manager and prints the persisted totals. The
[writebatch] section controls batching.`,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().Int("pages", 10, "number of pages")
	demoCmd.Flags().Int("hits", 1000, "number of hits to record")
	demoCmd.Flags().Bool("keep", false, "keep the demo table afterwards")
}

// page is the demo entity. Hits is guarded by mu because flushes read it
// from the scheduler goroutine.
type page struct {
	writebatch.Tracker
	mu   sync.Mutex
	ID   int
	Path string
	Hits int
}

func (p *page) hit() {
	p.mu.Lock()
	p.Hits++
	p.mu.Unlock()
	p.MarkField("hits")
}

func (p *page) hits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Hits
}

func runDemo(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	c, err := openClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeClient(c)

	pages, err := createDemoPages(ctx, c, viper.GetInt("pages"))
	if err != nil {
		return err
	}
	if !viper.GetBool("keep") {
		defer func() {
			if _, err := c.DB().ExecContext(context.Background(), "DROP TABLE "+demoTable); err != nil {
				log.WithError(err).Warn("dropping demo table failed")
			}
		}()
	}

	wb := client.WriteBatchConfig(cfg.WriteBatch)
	wb.Name = "demo"
	m, err := client.NewSQLChangeManager(c, func(p *page) (builder.Statement, error) {
		return c.Update(demoTable).Set("hits", p.hits()).WhereEquals("id", p.ID).Build()
	}, wb)
	if err != nil {
		return err
	}

	start := time.Now()
	total := viper.GetInt("hits")
	for i := 0; i < total; i++ {
		p := pages[i%len(pages)]
		p.hit()
		if err := m.RegisterDirty(ctx, p); err != nil {
			log.WithError(err).WithField("page", p.ID).Warn("flush failed")
		}
	}
	if err := m.Shutdown(ctx); err != nil {
		return err
	}
	elapsed := time.Since(start)

	row, err := c.QueryRow(ctx, c.Select("COALESCE(SUM(hits), 0)").From(demoTable))
	if err != nil {
		return err
	}
	var persisted int
	if err := row.Scan(&persisted); err != nil {
		return err
	}

	paths, err := cache.Named[int, string](c.Caches(), "demo-paths")
	if err != nil {
		return err
	}
	for round := 0; round < 2; round++ {
		for _, p := range pages {
			id := p.ID
			if _, err := paths.GetOrLoad(ctx, id, time.Minute, func(ctx context.Context) (string, error) {
				var path string
				row, err := c.QueryRow(ctx, c.Select("path").From(demoTable).WhereEquals("id", id))
				if err != nil {
					return "", err
				}
				err = row.Scan(&path)
				return path, err
			}); err != nil {
				return err
			}
		}
	}

	fmt.Printf("pages=%d hits=%d persisted=%d cached_paths=%d elapsed=%s\n",
		len(pages), total, persisted, paths.Len(), elapsed.Round(time.Millisecond))
	fmt.Println(c.PoolInfo())
	return nil
}

func createDemoPages(ctx context.Context, c *client.Client, n int) ([]*page, error) {
	if n < 1 {
		n = 1
	}
	if _, err := c.DB().ExecContext(ctx, "DROP TABLE IF EXISTS "+demoTable); err != nil {
		return nil, err
	}
	_, err := c.Exec(ctx, c.CreateTable(demoTable).
		Column("id", builder.IntNotNull(), builder.PrimaryKeyAttr).
		Column("path", builder.VarcharNotNull(255)).
		Column("hits", builder.IntNotNull(), builder.Default(0)))
	if err != nil {
		return nil, err
	}

	insert := c.InsertInto(demoTable).Columns("id", "path", "hits")
	pages := make([]*page, n)
	for i := range pages {
		pages[i] = &page{ID: i + 1, Path: fmt.Sprintf("/page/%d", i+1)}
		insert.Row(pages[i].ID, pages[i].Path, 0)
	}
	if _, err := c.Exec(ctx, insert); err != nil {
		return nil, err
	}
	return pages, nil
}
