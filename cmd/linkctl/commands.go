package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"knowledgelink-go/internal/bootstrap"
	"knowledgelink-go/internal/service"
	"knowledgelink-go/pkg/database"
	"knowledgelink-go/pkg/token"
)

var (
	tokenUserID  uint
	tokenName    string
	ingestUserID uint
	ingestTitle  string
	ingestTags   []string
	searchUserID uint
	searchLimit  int
	threshold    float64
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "创建或更新 MySQL 表结构",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Database.MySQL.DSN == "" {
			return errors.New("database.mysql.dsn is empty")
		}
		db, err := database.NewMySQL(cfg.Database.MySQL.DSN)
		if err != nil {
			return err
		}
		if err := database.Migrate(db); err != nil {
			return err
		}
		cmd.Println("migration complete")
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "为指定用户签发访问令牌",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if tokenUserID == 0 {
			return errors.New("--user-id is required")
		}
		tok, err := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours).GenerateToken(tokenUserID, tokenName)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [url]",
	Short: "保存链接并同步完成摄取",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, cleanup, err := newInlineApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := cmd.Context()
		doc, err := app.Documents.Save(ctx, service.SaveRequest{URL: args[0], Title: ingestTitle, Tags: ingestTags, UserID: ingestUserID})
		if err != nil {
			return err
		}
		// Save 返回的是投递前的快照，重新读取最终状态
		doc, err = app.Documents.Get(ctx, doc.ID, ingestUserID)
		if err != nil {
			return err
		}
		return printJSON(cmd, doc.ToResponse(false))
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "语义检索已保存的链接",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, cleanup, err := newInlineApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		req := service.SearchRequest{Query: args[0], Limit: searchLimit, UserID: searchUserID}
		if cmd.Flags().Changed("threshold") {
			req.Threshold = &threshold
		}
		resp, err := app.Search.Search(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		if resp.Reason != "" {
			cmd.PrintErrln("warning:", resp.Reason)
		}
		return printJSON(cmd, resp.Results)
	},
}

func init() {
	tokenCmd.Flags().UintVar(&tokenUserID, "user-id", 0, "用户 ID")
	tokenCmd.Flags().StringVar(&tokenName, "username", "", "用户名")

	ingestCmd.Flags().UintVar(&ingestUserID, "user-id", 1, "链接所属用户 ID")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "自定义标题")
	ingestCmd.Flags().StringSliceVar(&ingestTags, "tag", nil, "标签，可重复")

	searchCmd.Flags().UintVar(&searchUserID, "user-id", 0, "只检索该用户的链接，0 表示不过滤")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "最多返回的链接数")
	searchCmd.Flags().Float64Var(&threshold, "threshold", 0, "相似度阈值 [0, 1]")

	rootCmd.AddCommand(migrateCmd, tokenCmd, ingestCmd, searchCmd)
}

// newInlineApp 以同步队列模式启动全部依赖，摄取在 Save 返回前完成。
func newInlineApp(ctx context.Context) (*bootstrap.App, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	cfg.Queue.Mode = "inline"
	if ctx == nil {
		ctx = context.Background()
	}
	return bootstrap.New(ctx, cfg)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
