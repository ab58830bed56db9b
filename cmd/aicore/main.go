// =============================================================================
// aicore 命令行入口
// =============================================================================
// 使用方法:
//
//	aicore version
//	aicore models [--config aicore.yaml] [--capability text-generation]
//	aicore ask --user alice [--org acme] [--model gpt-4o] [--stream] "prompt"
//	aicore wallet --user alice --create 1000 [--limit 5000]
//	aicore wallet --org acme --topup 500
//	aicore usage --user alice [--period 2026-10]
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/BaSui01/aicore/config"
	"github.com/BaSui01/aicore/llm"
	"github.com/BaSui01/aicore/llm/catalog"
	"github.com/BaSui01/aicore/llm/metering"
	"github.com/BaSui01/aicore/llm/orchestrator"
	"github.com/BaSui01/aicore/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// 版本信息（构建时注入）
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "version":
		printVersion(os.Stdout)
	case "models":
		err = runModels(ctx, os.Args[2:], os.Stdout)
	case "ask":
		err = runAsk(ctx, os.Args[2:], os.Stdout)
	case "wallet":
		err = runWallet(ctx, os.Args[2:], os.Stdout)
	case "usage":
		err = runUsage(ctx, os.Args[2:], os.Stdout)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// 公共参数与装配
// =============================================================================

type commonFlags struct {
	configPath string
	user       string
	org        string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Path to config file")
	fs.StringVar(&c.user, "user", "", "User id")
	fs.StringVar(&c.org, "org", "", "Organization id (bills the organization wallet)")
}

func (c *commonFlags) identity() metering.Identity {
	return metering.Identity{UserID: c.user, OrganizationID: c.org}
}

func loadConfig(path string) (*config.Loader, *config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return loader, cfg, nil
}

func start(ctx context.Context, path string) (*config.Loader, *app, error) {
	loader, cfg, err := loadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	logger.Debug("starting aicore",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit))

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return loader, a, nil
}

func (a *app) shutdown() {
	a.close()
	_ = a.logger.Sync()
}

// =============================================================================
// models
// =============================================================================

func runModels(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("models", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	capability := fs.String("capability", "", "Only list models of this capability")
	if err := fs.Parse(args); err != nil {
		return err
	}

	_, a, err := start(ctx, *configPath)
	if err != nil {
		return err
	}
	defer a.shutdown()

	caps := types.Capabilities()
	if *capability != "" {
		c, err := types.ParseCapability(*capability)
		if err != nil {
			return err
		}
		caps = []types.Capability{c}
	}
	for _, c := range caps {
		printModels(out, c, a.catalog.ListModels(c))
	}
	return nil
}

func printModels(out io.Writer, capability types.Capability, models []catalog.ModelDescriptor) {
	fmt.Fprintf(out, "%s:\n", capability)
	if len(models) == 0 {
		fmt.Fprintln(out, "  (no AI capacity)")
		return
	}
	for _, m := range models {
		fmt.Fprintf(out, "  %-32s %-12s tier %d  %s credits/%s\n",
			m.ID, m.ProviderID, m.Tier, m.Pricing.ReferencePrice(capability).String(), capability.Unit())
	}
}

// =============================================================================
// ask
// =============================================================================

func runAsk(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	model := fs.String("model", "", "Model id (defaults to routing.default_models)")
	conversation := fs.String("conversation", "", "Conversation id for scoped caching")
	stream := fs.Bool("stream", false, "Stream the answer")
	noRouting := fs.Bool("no-smart-routing", false, "Never substitute the requested model")
	watch := fs.Bool("watch", false, "Reload the model catalog when the config file changes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	prompt := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if prompt == "" {
		return fmt.Errorf("ask: prompt is required")
	}

	loader, a, err := start(ctx, common.configPath)
	if err != nil {
		return err
	}
	defer a.shutdown()

	if *watch && common.configPath != "" {
		w, err := a.watchModels(ctx, loader)
		if err != nil {
			return err
		}
		defer w.Stop()
	}

	req := &orchestrator.Request{
		Capability:     types.CapabilityTextGeneration,
		Model:          *model,
		Messages:       []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Identity:       common.identity(),
		ConversationID: *conversation,
	}
	if *noRouting {
		off := false
		req.SmartRouting = &off
	}
	return ask(ctx, a.orch, req, *stream, out)
}

func ask(ctx context.Context, orch *orchestrator.Orchestrator, req *orchestrator.Request, stream bool, out io.Writer) error {
	var (
		resp *orchestrator.Response
		err  error
	)
	if stream {
		h, serr := orch.ExecuteStream(ctx, req)
		if serr != nil {
			return describe(serr)
		}
		for chunk := range h.Chunks() {
			fmt.Fprint(out, chunk.Delta)
		}
		fmt.Fprintln(out)
		resp, err = h.Result()
	} else {
		resp, err = orch.Execute(ctx, req)
		if err == nil {
			fmt.Fprintln(out, resp.Content)
		}
	}
	if err != nil {
		return describe(err)
	}
	printSummary(out, resp)
	return nil
}

func printSummary(out io.Writer, resp *orchestrator.Response) {
	fmt.Fprintf(out, "\n-- model %s", resp.Model)
	if resp.Model != resp.RequestedModel && resp.RequestedModel != "" {
		fmt.Fprintf(out, " (requested %s, %s)", resp.RequestedModel, resp.Routing)
	}
	if resp.Cached {
		fmt.Fprint(out, ", cached")
	}
	fmt.Fprintf(out, ", %s credits", resp.CreditsUsed.String())
	if resp.NewBalance != nil {
		fmt.Fprintf(out, ", balance %s", resp.NewBalance.String())
	}
	if resp.Usage.Estimated {
		fmt.Fprint(out, " (usage estimated)")
	}
	fmt.Fprintln(out)
}

// describe 给额度与模型不可用错误补充可操作的信息
func describe(err error) error {
	e, ok := types.AsError(err)
	if !ok {
		return err
	}
	switch {
	case e.Credit != nil:
		return fmt.Errorf("%s (required %s, balance %s, used %s of %s)",
			e.Message, e.Credit.Required, e.Credit.Balance, e.Credit.Used, e.Credit.Limit)
	case len(e.Alternatives) > 0:
		return fmt.Errorf("%s; available: %s", e.Message, strings.Join(e.Alternatives, ", "))
	}
	return err
}

// =============================================================================
// wallet
// =============================================================================

func runWallet(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("wallet", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	create := fs.String("create", "", "Open the wallet with this balance")
	topUp := fs.String("topup", "", "Add credits")
	limit := fs.String("limit", "", "Monthly plan limit (0 for unlimited)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	owner, err := common.identity().Owner()
	if err != nil {
		return err
	}

	_, a, err := start(ctx, common.configPath)
	if err != nil {
		return err
	}
	defer a.shutdown()

	planLimit := decimal.Zero
	if *limit != "" {
		if planLimit, err = decimal.NewFromString(*limit); err != nil {
			return fmt.Errorf("--limit: %w", err)
		}
	}

	switch {
	case *create != "":
		balance, err := decimal.NewFromString(*create)
		if err != nil {
			return fmt.Errorf("--create: %w", err)
		}
		if err := a.wallets.Create(ctx, owner, balance, planLimit); err != nil {
			return err
		}
	case *topUp != "":
		amount, err := decimal.NewFromString(*topUp)
		if err != nil {
			return fmt.Errorf("--topup: %w", err)
		}
		if _, err := a.wallets.TopUp(ctx, owner, amount); err != nil {
			return err
		}
		if *limit != "" {
			if err := a.wallets.SetPlanLimit(ctx, owner, planLimit); err != nil {
				return err
			}
		}
	case *limit != "":
		if err := a.wallets.SetPlanLimit(ctx, owner, planLimit); err != nil {
			return err
		}
	}

	acct, err := a.wallets.Get(ctx, owner)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s balance %s, used %s this period (%s)", owner, acct.Balance, acct.MonthlyUsed, acct.Period)
	if acct.PlanLimit.IsPositive() {
		fmt.Fprintf(out, ", limit %s", acct.PlanLimit)
	}
	fmt.Fprintln(out)
	return nil
}

// =============================================================================
// usage
// =============================================================================

func runUsage(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("usage", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	period := fs.String("period", "", "Billing period YYYY-MM (default: all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	q := metering.AggregateQuery{Period: *period}
	if common.user != "" || common.org != "" {
		owner, err := common.identity().Owner()
		if err != nil {
			return err
		}
		q.Owner = &owner
	}

	_, a, err := start(ctx, common.configPath)
	if err != nil {
		return err
	}
	defer a.shutdown()

	rows, err := a.ledger.Aggregate(ctx, q)
	if err != nil {
		return err
	}
	printUsageRows(out, rows)
	return nil
}

func printUsageRows(out io.Writer, rows []metering.AggregateRow) {
	if len(rows) == 0 {
		fmt.Fprintln(out, "no usage recorded")
		return
	}
	for _, r := range rows {
		fmt.Fprintf(out, "%-28s %s %-20s %-24s requests %d (cached %d)  credits %s\n",
			r.Owner, r.Period, r.Capability, r.ModelID, r.Requests, r.CachedRequests, r.Credits)
	}
}

// =============================================================================
// version / help
// =============================================================================

func printVersion(out io.Writer) {
	fmt.Fprintf(out, "aicore %s\n", Version)
	fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, `aicore - AI request orchestration core

Usage:
  aicore <command> [options]

Commands:
  version   Show version information
  models    List available models and prices
  ask       Send a text-generation request
  wallet    Create, top up or inspect a wallet
  usage     Summarize the usage ledger
  help      Show this help message

Common options:
  --config <path>   Path to configuration file (YAML)
  --user <id>       Caller user id
  --org <id>        Organization id; bills the organization wallet only

Examples:
  aicore models --capability text-generation
  aicore wallet --user alice --create 1000
  aicore ask --user alice --model gpt-4o-mini "What is the capital of France?"
  aicore ask --user alice --org acme --stream "Write a haiku about Go"
  aicore usage --org acme --period 2026-10`)
}
