package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	grpcv2 "github.com/lewatt23/smi.to/internal/grpc/v2"
	"github.com/lewatt23/smi.to/internal/model"
)

const defaultAddr = "localhost:3200"

// dialFunc подключается к серверу и возвращает клиента и функцию закрытия.
type dialFunc func(addr string) (*grpcv2.Client, func() error, error)

type rootOptions struct {
	addr    string
	timeout time.Duration
	asJSON  bool
	dial    dialFunc
}

// withClient выполняет fn с подключённым клиентом и таймаутом на вызов.
func (o *rootOptions) withClient(cmd *cobra.Command, fn func(ctx context.Context, c *grpcv2.Client) error) error {
	client, closeConn, err := o.dial(o.addr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", o.addr, err)
	}
	defer closeConn()

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()
	return fn(ctx, client)
}

func newRootCmd(dial dialFunc) *cobra.Command {
	opts := &rootOptions{dial: dial}

	root := &cobra.Command{
		Use:           "linkctl",
		Short:         "Управление короткими ссылками через gRPC",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.addr, "addr", defaultAddr, "адрес gRPC сервера")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "таймаут одного вызова")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "печатать ответ в JSON")

	root.AddCommand(
		newCreateCmd(opts),
		newStatsCmd(opts),
		newListCmd(opts),
		newDeleteCmd(opts),
	)
	return root
}

func newCreateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <url>",
		Short: "Сократить адрес",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *grpcv2.Client) error {
				res, err := c.Shorten(ctx, args[0])
				if err != nil {
					return err
				}
				if opts.asJSON {
					return printJSON(cmd.OutOrStdout(), res)
				}
				state := "existing"
				if res.Created {
					state = "created"
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", res.ShortURL, state)
				return err
			})
		},
	}
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <code>",
		Short: "Показать статистику ссылки",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *grpcv2.Client) error {
				link, err := c.Stats(ctx, args[0])
				if err != nil {
					return err
				}
				if opts.asJSON {
					return printJSON(cmd.OutOrStdout(), link)
				}
				return printLink(cmd.OutOrStdout(), *link)
			})
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Список ссылок, новые первыми",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *grpcv2.Client) error {
				links, err := c.ListRecent(ctx)
				if err != nil {
					return err
				}
				if opts.asJSON {
					return printJSON(cmd.OutOrStdout(), links)
				}
				for _, l := range links {
					if err := printLink(cmd.OutOrStdout(), l); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	var byID bool
	cmd := &cobra.Command{
		Use:   "delete <code>",
		Short: "Удалить ссылку по коду или, с --id, по идентификатору",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, func(ctx context.Context, c *grpcv2.Client) error {
				var (
					n   int64
					err error
				)
				if byID {
					n, err = c.DeleteByID(ctx, args[0])
				} else {
					n, err = c.DeleteByCode(ctx, args[0])
				}
				if err != nil {
					return err
				}
				if opts.asJSON {
					return printJSON(cmd.OutOrStdout(), model.DeleteResponse{Deleted: n})
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted: %d\n", n)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&byID, "id", false, "считать аргумент идентификатором записи")
	return cmd
}

func printLink(w io.Writer, l model.LinkResponse) error {
	if l.ShortLink == nil {
		return errors.New("empty link in response")
	}
	last := "-"
	if l.LastVisitedAt != nil {
		last = l.LastVisitedAt.Format(time.RFC3339)
	}
	_, err := fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", l.ShortCode, l.OriginalURL, l.Visits, last, l.ShortURL)
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
