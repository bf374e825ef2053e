// Command pdfsnippets reduces a corpus of documents to a JSON collection of
// bounded excerpts and runs the surrounding fetch, scrape and delivery steps.
package main

import (
    "context"
    "errors"
    "fmt"
    "io"
    "os"
    "os/signal"
    "strings"
    "syscall"
    "time"

    "github.com/rs/zerolog"
    "github.com/rs/zerolog/log"
    "github.com/spf13/cobra"

    "github.com/hyperifyio/pdfsnippets/internal/app"
    "github.com/hyperifyio/pdfsnippets/internal/deliver"
)

func main() {
    zerolog.TimeFieldFormat = time.RFC3339
    log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    err := newRootCmd(newCLI(), os.Stdout).ExecuteContext(ctx)
    stop()
    if err != nil {
        if errors.Is(err, deliver.ErrSkipped) {
            log.Info().Msg(err.Error())
        } else {
            log.Error().Err(err).Msg("run failed")
        }
    }
    os.Exit(exitCode(err))
}

// exitCode maps run errors to the process status: 2 when a delivery target
// answered with a non-2xx status, 1 for any other failure.
func exitCode(err error) int {
    switch {
    case err == nil, errors.Is(err, deliver.ErrSkipped):
        return 0
    case errors.Is(err, deliver.ErrDeliveryStatus):
        return 2
    default:
        return 1
    }
}

// cli holds flag values and the effective configuration. Flag values only
// override lower layers when the flag was set explicitly.
type cli struct {
    configPath string
    envFiles   []string

    flags    app.Config
    bindings []binding
    cfg      app.Config
}

type binding struct {
    name  string
    apply func(dst *app.Config)
}

func (c *cli) bind(name string, apply func(dst *app.Config)) {
    c.bindings = append(c.bindings, binding{name: name, apply: apply})
}

func newCLI() *cli { return &cli{flags: app.Defaults()} }

func newRootCmd(c *cli, stdout io.Writer) *cobra.Command {

    root := &cobra.Command{
        Use:           "pdfsnippets",
        Short:         "Reduce documents to keyword-ranked excerpts",
        Version:       app.BuildVersion,
        SilenceUsage:  true,
        SilenceErrors: true,
        PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
            return c.load(cmd)
        },
        RunE: func(cmd *cobra.Command, _ []string) error {
            return c.runExtract(cmd.Context())
        },
    }
    root.SetOut(stdout)
    root.SetVersionTemplate(fmt.Sprintf("pdfsnippets %s (commit %s, built %s)\n", app.BuildVersion, app.BuildCommit, app.BuildDate))

    pf := root.PersistentFlags()
    pf.StringVar(&c.configPath, "config", "", "Config file (.yaml, .json or .toml)")
    pf.StringSliceVar(&c.envFiles, "env-file", []string{".env", ".env.local"}, "dotenv files loaded before reading the environment")

    f := &c.flags
    pf.BoolVarP(&f.Verbose, "verbose", "v", false, "Verbose logging")
    c.bind("verbose", func(d *app.Config) { d.Verbose = f.Verbose })

    pf.IntVar(&f.Budget, "budget", f.Budget, "Maximum excerpt length in characters")
    c.bind("budget", func(d *app.Config) { d.Budget = f.Budget })
    pf.IntVar(&f.MinKeep, "min-keep", f.MinKeep, "Drop documents whose excerpt is shorter than this")
    c.bind("min-keep", func(d *app.Config) { d.MinKeep = f.MinKeep })
    pf.StringArrayVar(&f.Keywords, "keywords", nil, "Relevance pattern, repeat for each; highest priority first (default built-in list)")
    c.bind("keywords", func(d *app.Config) { d.Keywords = f.Keywords })
    pf.StringVar(&f.Scoring, "scoring", f.Scoring, "Scoring policy: position or flat")
    c.bind("scoring", func(d *app.Config) { d.Scoring = f.Scoring })
    pf.StringVar(&f.Accumulation, "accumulation", f.Accumulation, "Accumulation policy: topk or greedy")
    c.bind("accumulation", func(d *app.Config) { d.Accumulation = f.Accumulation })
    pf.IntVar(&f.TopK, "top-k", f.TopK, "Blocks kept by the topk policy")
    c.bind("top-k", func(d *app.Config) { d.TopK = f.TopK })

    pf.StringSliceVar(&f.SourceDirs, "source", f.SourceDirs, "Source locations, searched in order")
    c.bind("source", func(d *app.Config) { d.SourceDirs = f.SourceDirs })
    pf.StringSliceVar(&f.Extensions, "ext", f.Extensions, "Source file extensions")
    c.bind("ext", func(d *app.Config) { d.Extensions = f.Extensions })
    pf.IntVar(&f.Concurrency, "concurrency", f.Concurrency, "Parallel workers (0 = number of CPUs)")
    c.bind("concurrency", func(d *app.Config) { d.Concurrency = f.Concurrency })

    pf.StringVarP(&f.OutputPath, "output", "o", f.OutputPath, "Output JSON path")
    c.bind("output", func(d *app.Config) { d.OutputPath = f.OutputPath })
    pf.StringVar(&f.OutputPDFPath, "pdf", "", "Also write a PDF digest of the excerpts")
    c.bind("pdf", func(d *app.Config) { d.OutputPDFPath = f.OutputPDFPath })
    pf.BoolVar(&f.WriteManifest, "manifest", f.WriteManifest, "Write <output>.manifest.json next to the output")
    c.bind("manifest", func(d *app.Config) { d.WriteManifest = f.WriteManifest })

    pf.StringVar(&f.CacheDir, "cache.dir", f.CacheDir, "Cache directory (empty disables caching)")
    c.bind("cache.dir", func(d *app.Config) { d.CacheDir = f.CacheDir })
    pf.DurationVar(&f.CacheMaxAge, "cache.maxAge", 0, "Purge cache entries older than this (0 disables)")
    c.bind("cache.maxAge", func(d *app.Config) { d.CacheMaxAge = f.CacheMaxAge })
    pf.BoolVar(&f.CacheClear, "cache.clear", false, "Clear the cache directory before running")
    c.bind("cache.clear", func(d *app.Config) { d.CacheClear = f.CacheClear })
    pf.BoolVar(&f.CacheStrictPerms, "cache.strictPerms", false, "Restrict cache permissions (0700 dirs, 0600 files)")
    c.bind("cache.strictPerms", func(d *app.Config) { d.CacheStrictPerms = f.CacheStrictPerms })

    root.AddCommand(
        &cobra.Command{
            Use:   "extract",
            Short: "Select excerpts from source documents and write the JSON collection",
            Args:  cobra.NoArgs,
            RunE: func(cmd *cobra.Command, _ []string) error {
                return c.runExtract(cmd.Context())
            },
        },
        c.fetchCmd(),
        c.scrapeCmd(),
        c.postCmd(stdout),
        c.askCmd(stdout),
        &cobra.Command{
            Use:   "watch",
            Short: "Re-run extract whenever source documents change",
            Args:  cobra.NoArgs,
            RunE: func(cmd *cobra.Command, _ []string) error {
                a, err := app.New(c.cfg)
                if err != nil {
                    return err
                }
                return a.Watch(cmd.Context())
            },
        },
        &cobra.Command{
            Use:   "version",
            Short: "Print build information",
            Args:  cobra.NoArgs,
            PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
            RunE: func(cmd *cobra.Command, _ []string) error {
                _, err := fmt.Fprintf(cmd.OutOrStdout(), "pdfsnippets %s (commit %s, built %s)\n", app.BuildVersion, app.BuildCommit, app.BuildDate)
                return err
            },
        },
    )
    return root
}

func (c *cli) fetchCmd() *cobra.Command {
    f := &c.flags
    cmd := &cobra.Command{
        Use:   "fetch",
        Short: "Download the documents listed in the manifest CSV",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, _ []string) error {
            a, err := app.New(c.cfg)
            if err != nil {
                return err
            }
            _, err = a.Fetch(cmd.Context())
            return err
        },
    }
    fl := cmd.Flags()
    fl.StringVar(&f.ManifestCSV, "manifest-csv", f.ManifestCSV, "CSV of name,url rows")
    c.bind("manifest-csv", func(d *app.Config) { d.ManifestCSV = f.ManifestCSV })
    fl.StringVar(&f.FetchDir, "dir", "", "Download directory (default first source location)")
    c.bind("dir", func(d *app.Config) { d.FetchDir = f.FetchDir })
    fl.Float64Var(&f.FetchRate, "rate", f.FetchRate, "Maximum requests per second (0 = unpaced)")
    c.bind("rate", func(d *app.Config) { d.FetchRate = f.FetchRate })
    return cmd
}

func (c *cli) scrapeCmd() *cobra.Command {
    f := &c.flags
    cmd := &cobra.Command{
        Use:   "scrape",
        Short: "Build the site context file and publish it to Drive",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, _ []string) error {
            a, err := app.New(c.cfg)
            if err != nil {
                return err
            }
            _, err = a.Scrape(cmd.Context())
            return err
        },
    }
    fl := cmd.Flags()
    fl.StringSliceVar(&f.ScrapeURLs, "urls", f.ScrapeURLs, "Pages to scrape, in order")
    c.bind("urls", func(d *app.Config) { d.ScrapeURLs = f.ScrapeURLs })
    fl.StringVar(&f.SitesContextPath, "context", f.SitesContextPath, "Site context output path")
    c.bind("context", func(d *app.Config) { d.SitesContextPath = f.SitesContextPath })
    fl.DurationVar(&f.ScrapeDelay, "delay", f.ScrapeDelay, "Pause between page requests")
    c.bind("delay", func(d *app.Config) { d.ScrapeDelay = f.ScrapeDelay })
    fl.BoolVar(&f.RespectRobots, "robots", false, "Skip pages excluded by robots.txt")
    c.bind("robots", func(d *app.Config) { d.RespectRobots = f.RespectRobots })
    return cmd
}

func (c *cli) postCmd(stdout io.Writer) *cobra.Command {
    f := &c.flags
    cmd := &cobra.Command{
        Use:   "post",
        Short: "Send the excerpts and site context to the webhook",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, _ []string) error {
            a, err := app.New(c.cfg)
            if err != nil {
                return err
            }
            resp, err := a.Post(cmd.Context())
            if resp.Status != 0 {
                fmt.Fprintf(stdout, "HTTP %d\n%s\n", resp.Status, resp.Body)
            }
            return err
        },
    }
    fl := cmd.Flags()
    fl.StringVar(&f.GASURL, "url", "", "Webhook URL (GAS_URL)")
    c.bind("url", func(d *app.Config) { d.GASURL = f.GASURL })
    fl.StringVarP(&f.UserQuery, "query", "q", f.UserQuery, "Question sent with the payload")
    c.bind("query", func(d *app.Config) { d.UserQuery = f.UserQuery })
    return cmd
}

func (c *cli) askCmd(stdout io.Writer) *cobra.Command {
    f := &c.flags
    cmd := &cobra.Command{
        Use:   "ask",
        Short: "Answer the query with an OpenAI-compatible model",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, _ []string) error {
            a, err := app.New(c.cfg)
            if err != nil {
                return err
            }
            resp, err := a.Ask(cmd.Context())
            if err != nil {
                return err
            }
            _, err = fmt.Fprintln(stdout, strings.TrimSpace(resp.Body))
            return err
        },
    }
    fl := cmd.Flags()
    fl.StringVarP(&f.UserQuery, "query", "q", f.UserQuery, "Question to answer")
    c.bind("query", func(d *app.Config) { d.UserQuery = f.UserQuery })
    fl.StringVar(&f.LLMBaseURL, "llm.base", "", "OpenAI-compatible base URL")
    c.bind("llm.base", func(d *app.Config) { d.LLMBaseURL = f.LLMBaseURL })
    fl.StringVar(&f.LLMModel, "llm.model", "", "Model name")
    c.bind("llm.model", func(d *app.Config) { d.LLMModel = f.LLMModel })
    fl.StringVar(&f.LLMAPIKey, "llm.key", "", "API key")
    c.bind("llm.key", func(d *app.Config) { d.LLMAPIKey = f.LLMAPIKey })
    return cmd
}

// load builds the effective configuration: defaults, then the config file,
// then the environment, then explicitly set flags.
func (c *cli) load(cmd *cobra.Command) error {
    if err := app.LoadEnvFiles(c.envFiles...); err != nil {
        return fmt.Errorf("load env files: %w", err)
    }
    cfg := app.Defaults()
    if strings.TrimSpace(c.configPath) != "" {
        fc, err := app.LoadConfigFile(c.configPath)
        if err != nil {
            return fmt.Errorf("config file: %w", err)
        }
        if err := app.ApplyFileConfig(&cfg, fc); err != nil {
            return err
        }
    }
    if err := app.ApplyEnvOverrides(&cfg, os.Getenv); err != nil {
        return err
    }
    for _, b := range c.bindings {
        if fl := cmd.Flags().Lookup(b.name); fl != nil && fl.Changed {
            b.apply(&cfg)
        }
    }
    if cfg.Verbose {
        zerolog.SetGlobalLevel(zerolog.DebugLevel)
    } else {
        zerolog.SetGlobalLevel(zerolog.InfoLevel)
    }
    c.cfg = cfg
    return nil
}

func (c *cli) runExtract(ctx context.Context) error {
    a, err := app.New(c.cfg)
    if err != nil {
        return err
    }
    _, err = a.Extract(ctx)
    return err
}
