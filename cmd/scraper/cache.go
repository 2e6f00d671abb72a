package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-catalog/cache"
	"github.com/aluiziolira/go-scrape-catalog/scraper"
)

func newCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List the categories a crawl would visit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			fetcher, err := scraper.NewFetcher(cfg, nil)
			if err != nil {
				return fmt.Errorf("initialising fetcher: %w", err)
			}
			categories, err := scraper.NewCrawler(cfg, fetcher, nil, nil).DiscoverCategories(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, c := range categories {
				fmt.Fprintf(out, "%s\t%s\n", c.Name, c.Link)
			}
			return nil
		},
	}
}

func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the listing link cache",
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show how many listing pages are cached",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			links, err := openCache(cmd)
			if err != nil {
				return err
			}
			n, err := links.Len()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d cached listing pages\n", links.Dir(), n)
			return nil
		},
	})

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every cached listing page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			links, err := openCache(cmd)
			if err != nil {
				return err
			}
			n, err := links.Clear()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: removed %d cached listing pages\n", links.Dir(), n)
			return nil
		},
	})

	return cacheCmd
}

func openCache(cmd *cobra.Command) (*cache.LinkCache, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	links, err := cache.New(cfg.CacheDir, 0)
	if err != nil {
		return nil, fmt.Errorf("open link cache: %w", err)
	}
	return links, nil
}
