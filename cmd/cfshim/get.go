package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/cfshim/internal/scraper"
)

func (c *cli) getCommand() *cobra.Command {
	var (
		headers []string
		include bool
		cookies bool
	)

	cmd := &cobra.Command{
		Use:   "get <url>",
		Short: "Fetch a page, solving any challenge on the way",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := scraper.FromConfig(c.cfg, c.logger)
			if err != nil {
				return err
			}
			s, err := scraper.New(opts...)
			if err != nil {
				return err
			}
			defer s.Close()

			req := &scraper.Request{Method: http.MethodGet, URL: args[0], Header: http.Header{}}
			for _, h := range headers {
				k, v, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("header %q: want Name: value", h)
				}
				req.Header.Add(strings.TrimSpace(k), strings.TrimSpace(v))
			}

			resp, err := s.Do(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if include {
				fmt.Fprintf(out, "%s\n", resp.Status)
				if err := resp.Header.Write(out); err != nil {
					return err
				}
				fmt.Fprintln(out)
			}
			if cookies {
				jar, err := s.Cookies(resp.URL.String())
				if err != nil {
					return err
				}
				values := make(map[string]string, len(jar))
				for _, ck := range jar {
					values[ck.Name] = ck.Value
				}
				b, err := sonic.ConfigStd.MarshalIndent(map[string]any{
					"user_agent": s.Stats().UserAgent,
					"cookies":    values,
				}, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(b))
				return err
			}
			_, err = out.Write(resp.Body)
			return err
		},
	}
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "extra request header, Name: value")
	cmd.Flags().BoolVarP(&include, "include", "i", false, "print the status line and headers")
	cmd.Flags().BoolVar(&cookies, "cookies", false, "print the clearance cookies and user agent instead of the body")
	return cmd
}
