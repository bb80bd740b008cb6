package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/pixreaper/internal/config"
	"github.com/tanq16/pixreaper/internal/download"
	"github.com/tanq16/pixreaper/internal/output"
	"github.com/tanq16/pixreaper/internal/page"
	"github.com/tanq16/pixreaper/internal/resolver"
	"github.com/tanq16/pixreaper/internal/scanner"
	"github.com/tanq16/pixreaper/internal/utils"
)

var (
	cfgPath       string
	savePath      string
	prefix        string
	connections   int
	timeout       time.Duration
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	extensions    []string
	extraHosts    []string
	duplicateMode string
	noSubfolder   bool
	scanOnly      bool
	saveConfig    bool
	debug         bool
)

var PixReaperVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "pixreaper [gallery URL]",
	Short:   "PixReaper scans gallery pages for image viewer links and bulk-downloads the images",
	Version: PixReaperVersion,
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		opts, err := config.Load(cfgPath)
		if err != nil {
			output.PrintWarning(fmt.Sprintf("Falling back to default options: %v", err))
		}
		applyFlagOverrides(cmd, &opts)
		opts.Normalize()
		utils.InitLogger(debug || opts.DebugLogging)
		if saveConfig {
			if err := config.Save(cfgPath, opts); err != nil {
				output.PrintWarning(fmt.Sprintf("Could not save options: %v", err))
			}
		}
		if err := run(args[0], opts); err != nil {
			output.PrintError(err.Error())
			os.Exit(1)
		}
	},
}

func applyFlagOverrides(cmd *cobra.Command, opts *config.Options) {
	if cmd.Flags().Changed("output") {
		opts.SavePath = savePath
	}
	if cmd.Flags().Changed("connections") {
		opts.MaxConnections = connections
	}
	if cmd.Flags().Changed("prefix") {
		opts.Prefix = prefix
	}
	if cmd.Flags().Changed("extensions") {
		opts.ValidExtensions = extensions
	}
	if cmd.Flags().Changed("hosts") {
		opts.ValidHosts = append(opts.ValidHosts, extraHosts...)
	}
	if cmd.Flags().Changed("duplicate-mode") {
		opts.DuplicateMode = duplicateMode
	}
	if noSubfolder {
		opts.CreateSubfolder = false
	}
}

func run(galleryURL string, opts config.Options) error {
	if userAgent == "randomize" {
		userAgent = utils.GetRandomUserAgent()
	}
	cookies, err := resolver.NewCookieStore()
	if err != nil {
		return err
	}
	clientConfig := utils.HTTPClientConfig{
		Timeout:       timeout,
		UserAgent:     userAgent,
		ProxyURL:      proxyURL,
		ProxyUsername: proxyUsername,
		ProxyPassword: proxyPassword,
		Jar:           cookies.Jar(),
	}
	resolveClient := utils.NewPixHTTPClient(clientConfig)

	registry := resolver.NewRegistry(opts.ValidHosts)
	policy := resolver.NewExtensionPolicy(opts.ValidExtensions)
	engine := resolver.NewEngine(resolveClient, cookies, registry, policy, 0)

	// Ctrl-C cancels whichever run is active at the time.
	var cancelMu sync.Mutex
	var cancelCurrent func()
	setCancel := func(f func()) {
		cancelMu.Lock()
		cancelCurrent = f
		cancelMu.Unlock()
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			cancelMu.Lock()
			if cancelCurrent != nil {
				cancelCurrent()
			}
			cancelMu.Unlock()
		}
	}()

	surface := page.NewHTTPSurface(resolveClient, galleryURL)
	candidates, err := surface.ExtractOutboundLinks(context.Background())
	if err != nil {
		return fmt.Errorf("error scanning gallery page: %w", err)
	}
	var links []string
	for _, link := range candidates {
		if registry.IsSupported(link) {
			links = append(links, link)
		}
	}
	if len(links) == 0 {
		output.PrintWarning("No supported viewer links found on page")
		return nil
	}
	output.PrintInfo(fmt.Sprintf("Found %d supported viewer links, resolving...", len(links)))

	sc := scanner.New(engine, opts.MaxConnections, 0)
	scanRun := sc.Start(links)
	setCancel(scanRun.Cancel)

	tracker := output.NewTracker(len(links))
	var results []scanner.Result
	for ev := range scanRun.Events() {
		tracker.ScanEvent(ev)
		switch ev.Kind {
		case scanner.EventCompleted:
			results = ev.Results
		case scanner.EventCancelled:
			return fmt.Errorf("scan cancelled")
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	var resolved []string
	for _, r := range results {
		if r.Status == resolver.StatusSuccess {
			resolved = append(resolved, r.Resolved)
		}
	}
	if scanOnly {
		for _, direct := range resolved {
			fmt.Println(direct)
		}
		return nil
	}
	if len(resolved) == 0 {
		output.PrintWarning("No links resolved to images, nothing to download")
		return nil
	}

	subfolder := ""
	if opts.CreateSubfolder {
		subfolder = surface.Title()
		if subfolder == "" {
			if parsed, err := url.Parse(galleryURL); err == nil && parsed.Hostname() != "" {
				subfolder = parsed.Hostname()
			} else {
				subfolder = "gallery"
			}
		}
	}
	manifest := download.BuildManifest(resolved, download.ManifestOptions{
		SavePath:  opts.SavePath,
		Prefix:    opts.Prefix,
		Subfolder: subfolder,
	})

	dlConfig := clientConfig
	dlConfig.NoRedirects = true
	dlEngine := download.NewEngine(utils.NewPixHTTPClient(dlConfig), policy, download.DuplicateMode(opts.DuplicateMode))
	dlRun := download.NewScheduler(dlEngine, opts.MaxConnections).Start(manifest)
	setCancel(dlRun.Cancel)

	var summary download.Summary
	for ev := range dlRun.Events() {
		tracker.DownloadEvent(ev)
		if ev.Kind == download.EventCompleted {
			summary = ev.Summary
		}
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", summary.Failed, summary.Total)
	}
	output.PrintSuccess(fmt.Sprintf("Images saved to %s", filepath.Dir(manifest[0].Path)))
	return nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVar(&cfgPath, "config", defaultConfigPath(), "Path to YAML options file")
	rootCmd.Flags().StringVarP(&savePath, "output", "o", "", "Directory to save downloaded images into")
	rootCmd.Flags().StringVar(&prefix, "prefix", "", "Filename prefix for downloaded images")
	rootCmd.Flags().IntVarP(&connections, "connections", "c", 10, "Maximum concurrent connections for resolving and downloading")
	rootCmd.Flags().DurationVarP(&timeout, "timeout", "t", 60*time.Second, "Connection timeout (eg. 5s, 1m)")
	rootCmd.Flags().StringVarP(&userAgent, "user-agent", "a", utils.GetRandomUserAgent(), "User agent ('randomize' picks one per run)")
	rootCmd.Flags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL")
	rootCmd.Flags().StringVar(&proxyUsername, "proxy-username", "", "Proxy username")
	rootCmd.Flags().StringVar(&proxyPassword, "proxy-password", "", "Proxy password")
	rootCmd.Flags().StringSliceVar(&extensions, "extensions", nil, "Allowed image extensions (eg. jpg,jpeg,png)")
	rootCmd.Flags().StringSliceVar(&extraHosts, "hosts", nil, "Extra hosts to resolve with the generic strategy")
	rootCmd.Flags().StringVar(&duplicateMode, "duplicate-mode", "", "Duplicate handling: skip, overwrite, or rename")
	rootCmd.Flags().BoolVar(&noSubfolder, "no-subfolder", false, "Save directly into the output directory without a gallery subfolder")
	rootCmd.Flags().BoolVar(&scanOnly, "scan-only", false, "Resolve and print direct URLs without downloading")
	rootCmd.Flags().BoolVar(&saveConfig, "save-config", false, "Persist the effective options back to the config file")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pixreaper.yaml"
	}
	return home + "/.config/pixreaper/options.yaml"
}
