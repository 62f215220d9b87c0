// Command deckadmin runs maintenance tasks against a DeckForge database.
package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/Excalium-OG/DeckForge/audit"
	"github.com/Excalium-OG/DeckForge/config"
	dbadapter "github.com/Excalium-OG/DeckForge/db"
	"github.com/Excalium-OG/DeckForge/game/catalog"
	"github.com/Excalium-OG/DeckForge/game/ledger"
	"github.com/Excalium-OG/DeckForge/game/trade"
	"github.com/Excalium-OG/DeckForge/game/valuation"
	"github.com/Excalium-OG/DeckForge/model"
	"github.com/Excalium-OG/DeckForge/resource"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type env struct {
	cfgPath string
	cfg     *config.Config
	logger  *zap.Logger
}

func (e *env) load() error {
	cfg, err := config.Load(e.cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	e.cfg = cfg
	if cfg.Server.Debug {
		e.logger, err = zap.NewDevelopment()
	} else {
		e.logger, err = zap.NewProduction()
	}
	return err
}

func (e *env) openDB() (*gorm.DB, error) {
	db, err := dbadapter.Open(e.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	return db, nil
}

func newRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:          "deckadmin",
		Short:        "DeckForge maintenance commands",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "values" && !cmd.Flags().Changed("config") {
				e.cfg = config.Default()
				return nil
			}
			return e.load()
		},
	}
	root.PersistentFlags().StringVar(&e.cfgPath, "config", "config/config.yaml", "config file")
	root.AddCommand(
		newMigrateCmd(e),
		newValuesCmd(e),
		newImportCmd(e),
		newSweepCmd(e),
		newGrantCmd(e),
	)
	return root
}

func newMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := e.openDB(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newValuesCmd(e *env) *cobra.Command {
	var maxLevel int
	cmd := &cobra.Command{
		Use:   "values",
		Short: "Print recycle values and merge costs per rarity and level",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printValues(cmd.OutOrStdout(), valuation.New(e.cfg.Economy), maxLevel)
		},
	}
	cmd.Flags().IntVar(&maxLevel, "max-level", 10, "highest level to print")
	return cmd
}

func printValues(out io.Writer, t *valuation.Table, maxLevel int) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "rarity\tlevel\tbase cards\trecycle\tmerge cost\t")
	for _, r := range t.Rarities() {
		for l := 0; l <= maxLevel; l++ {
			rv, err := t.RecycleValue(r, l)
			if err != nil {
				return err
			}
			mc, err := t.MergeCost(r, l)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t\n", r, l, valuation.RequiredBaseCards(l), rv.StringFixed(2), mc.StringFixed(2))
		}
	}
	return w.Flush()
}

func newImportCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "import [dir]",
		Short: "Load deck catalog files into the database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := e.cfg.Catalog.DataPath
			if len(args) == 1 {
				dir = args[0]
			}
			if dir == "" {
				return fmt.Errorf("no catalog directory: pass one or set catalog.data_path")
			}
			db, err := e.openDB()
			if err != nil {
				return err
			}
			rl := resource.NewLoader(dir)
			if err := rl.Load(); err != nil {
				return err
			}
			rep, err := resource.Apply(cmd.Context(), db, rl.Decks, resource.Options{
				Rarities:           valuation.New(e.cfg.Economy).Rarities(),
				DefaultDiminishing: decimal.NewFromFloat(e.cfg.Economy.DefaultDiminishing),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "decks=%d fields=%d perks=%d cards=%d values=%d drop_rates=%d\n",
				rep.Decks, rep.Fields, rep.Perks, rep.Cards, rep.Values, rep.DropRates)
			return nil
		},
	}
}

func newSweepCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire every overdue trade session",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := e.openDB()
			if err != nil {
				return err
			}
			// Sweeping needs neither locks nor event delivery.
			svc := trade.NewService(db, nil, nil, ledger.New(db, e.logger), nil, e.cfg.Trade, e.logger)
			n, err := svc.SweepExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d trade(s)\n", n)
			return nil
		},
	}
}

func newGrantCmd(e *env) *cobra.Command {
	var playerID, cardID int64
	var amount int
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Mint fresh level-0 instances of a card for a player",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := e.openDB()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if _, err := catalog.NewStore(db, e.logger).Card(ctx, cardID); err != nil {
				return err
			}
			cards, err := ledger.New(db, e.logger).Mint(ctx, playerID, cardID, amount, ledger.SourceGrant)
			if err != nil {
				return err
			}
			auditSvc := audit.New(db, e.logger)
			defer auditSvc.Stop(ctx)
			ids := make([]string, len(cards))
			for i := range cards {
				ids[i] = cards[i].InstanceID
				fmt.Fprintln(cmd.OutOrStdout(), cards[i].InstanceID)
			}
			auditSvc.Log(audit.AuditEntry{
				PlayerID: &playerID,
				Action:   audit.ActionGrant,
				Subject:  fmt.Sprintf("card:%d", cardID),
				Request:  map[string]interface{}{"player_id": playerID, "card_id": cardID, "amount": amount, "via": "deckadmin"},
				Response: ids,
			})
			return nil
		},
	}
	cmd.Flags().Int64Var(&playerID, "player", 0, "player id")
	cmd.Flags().Int64Var(&cardID, "card", 0, "card id")
	cmd.Flags().IntVar(&amount, "amount", 1, "number of instances")
	_ = cmd.MarkFlagRequired("player")
	_ = cmd.MarkFlagRequired("card")
	return cmd
}
