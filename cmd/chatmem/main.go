// Command chatmem is a CLI front end for the hybrid chat-memory store.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/foglet-ai/chatmem/pkg/chatmem"
	"github.com/foglet-ai/chatmem/pkg/chatmemlog"
	"github.com/foglet-ai/chatmem/pkg/embedder"
	"github.com/foglet-ai/chatmem/pkg/engine"
)

var (
	cfgFile  string
	dbPath   string
	table    string
	dim      int
	embedURL string
	sender   string
	uuidFlag string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "chatmem",
	Short: "CLI for the hybrid chat-memory store",
	Long:  "chatmem manages a SQLite-backed chat-memory database combining relational, full-text, and vector search.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		chatmemlog.Init(chatmemlog.Config{Level: logLevel, Format: "console"})
	},
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("chatmem")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("CHATMEM")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	if !rootCmd.PersistentFlags().Changed("db") {
		if v := viper.GetString("db_path"); v != "" {
			dbPath = v
		}
	}
}

func buildCallback() *embedder.Callback {
	if embedURL != "" {
		he := &embedder.HTTPEmbedder{Endpoint: embedURL}
		return &embedder.Callback{Single: he.Single}
	}
	// Deterministic stub embedder for demonstration when no embedding
	// service is configured; not suitable for real retrieval quality.
	return &embedder.Callback{Single: func(ctx context.Context, text string) ([]float32, error) {
		sum := sha256.Sum256([]byte(text))
		bits := binary.LittleEndian.Uint32(sum[28:32])
		return []float32{math.Float32frombits(bits)}, nil
	}}
}

func openTable(ctx context.Context) (*chatmem.DB, *engine.Table, error) {
	db, err := chatmem.Open(ctx, chatmem.Config{Path: dbPath})
	if err != nil {
		return nil, nil, err
	}
	tbl, err := db.Table(ctx, table, dim, 32, buildCallback())
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, tbl, nil
}

var rememberCmd = &cobra.Command{
	Use:   "remember <message>",
	Short: "Add a message to the chat memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		db, tbl, err := openTable(ctx)
		if err != nil {
			return err
		}
		defer db.Close()
		defer tbl.Close(ctx)

		id := uuidFlag
		if id == "" {
			id = uuid.NewString()
		}
		rowID, err := tbl.Add(ctx, engine.InsertData{Sender: sender, SenderUUID: id, Message: args[0]})
		if err != nil {
			return err
		}
		fmt.Printf("remembered row %d for %s\n", rowID, id)
		return nil
	},
}

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Find the k nearest memories to query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, _ := cmd.Flags().GetInt("k")
		ctx := context.Background()
		db, tbl, err := openTable(ctx)
		if err != nil {
			return err
		}
		defer db.Close()
		defer tbl.Close(ctx)

		results, err := tbl.SearchVectorText(ctx, args[0], k)
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Printf("%d\t%.4f\t%s\t%s\n", r.ID, r.Distance, r.SenderUUID, r.Message)
		}
		return nil
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Run one probabilistic forgetting pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		db, tbl, err := openTable(ctx)
		if err != nil {
			return err
		}
		defer db.Close()
		defer tbl.Close(ctx)

		n, err := tbl.Forgotten(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("forgot %d rows\n", n)
		return nil
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the vector index",
	RunE: func(cmd *cobra.Command, args []string) error {
		full, _ := cmd.Flags().GetBool("full")
		ctx := context.Background()
		db, tbl, err := openTable(ctx)
		if err != nil {
			return err
		}
		defer db.Close()
		defer tbl.Close(ctx)

		if full {
			return tbl.FullRebuildFaissIndex(ctx)
		}
		return tbl.RebuildFaissIndex(ctx)
	},
}

func main() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./chatmem.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "chatmem.db", "database file path")
	rootCmd.PersistentFlags().StringVar(&table, "table", "conversations", "table name")
	rootCmd.PersistentFlags().IntVar(&dim, "dim", 1, "vector dimension for this table")
	rootCmd.PersistentFlags().StringVar(&embedURL, "embed-url", "", "HTTP embedding service endpoint (example client only)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rememberCmd.Flags().StringVar(&sender, "sender", "", "display name of the sender, empty stored as NULL")
	rememberCmd.Flags().StringVar(&uuidFlag, "uuid", "", "sender uuid, generated if omitted")
	recallCmd.Flags().Int("k", 5, "number of nearest neighbours to return")
	rebuildCmd.Flags().Bool("full", false, "re-embed every row instead of reconstructing from the index")

	rootCmd.AddCommand(rememberCmd, recallCmd, forgetCmd, rebuildCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
