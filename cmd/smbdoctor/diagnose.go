package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/sznuper/smbdoctor/internal/config"
	"github.com/sznuper/smbdoctor/internal/credential"
	"github.com/sznuper/smbdoctor/internal/engine"
	"github.com/sznuper/smbdoctor/internal/prompt"
	"github.com/sznuper/smbdoctor/internal/runner"
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose [target_name]",
	Short: "Diagnose a file share once",
	Long: "Diagnoses a configured target by name, an ad-hoc server given with --server, or every configured " +
		"target when neither is given. Exits 0 when all stages pass, 1 on warnings, 2 on critical failures " +
		"and 3 when the target or config cannot be used.",
	Args: cobra.MaximumNArgs(1),
	RunE: runDiagnose,
}

func init() {
	f := diagnoseCmd.Flags()
	f.String("server", "", "server host name or address")
	f.String("share", "", "share name")
	f.String("credential", "", "credential reference (env://PREFIX, file://name)")
	f.BoolP("interactive", "i", false, "prompt for the target and credentials")
	f.Bool("json", false, "print the report as JSON")
	f.Bool("notify", false, "send notifications for configured targets that did not pass")
	f.Bool("dry-run", false, "render and validate notifications without sending them")
	rootCmd.AddCommand(diagnoseCmd)
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	server, _ := flags.GetString("server")
	interactive, _ := flags.GetBool("interactive")
	asJSON, _ := flags.GetBool("json")
	notify, _ := flags.GetBool("notify")
	dryRun, _ := flags.GetBool("dry-run")
	logger := setupLogger()

	if len(args) == 1 && (server != "" || interactive) {
		return errors.New("give either a target name or --server/--interactive, not both")
	}

	cfg, err := config.ResolveOrEmpty(cfgFile)
	if err != nil {
		return err
	}
	applyOptionFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config:\n%w", err)
	}
	if len(args) == 0 && server == "" && !interactive && len(cfg.Targets) == 0 {
		if !stdinIsTerminal() {
			return errors.New("no targets configured; use --server or --interactive")
		}
		interactive = true
	}

	r, err := runner.New(cfg, nil, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var jobs []runner.Job
	var results []runner.Result
	switch {
	case len(args) == 1:
		t := cfg.FindTarget(args[0])
		if t == nil {
			return fmt.Errorf("target %q not found in config", args[0])
		}
		job, err := r.JobFor(t)
		if err != nil {
			return err
		}
		jobs = append(jobs, job)
	case server != "" || interactive:
		job, err := adHocJob(ctx, cmd, r, interactive)
		if err != nil {
			return err
		}
		jobs = append(jobs, job)
	default:
		for i := range cfg.Targets {
			job, err := r.JobFor(&cfg.Targets[i])
			if err != nil {
				results = append(results, runner.Result{TargetName: cfg.Targets[i].Name, Err: err, ErrStage: "build"})
				continue
			}
			jobs = append(jobs, job)
		}
	}

	for _, job := range jobs {
		if notify || dryRun {
			results = append(results, r.Run(ctx, job, dryRun))
		} else {
			results = append(results, r.Evaluate(ctx, job))
		}
		if ctx.Err() != nil {
			break
		}
	}

	out := cmd.OutOrStdout()
	if asJSON {
		if err := printJSON(out, results); err != nil {
			return err
		}
	} else {
		for _, res := range results {
			printResult(out, res)
		}
	}

	code := 0
	for _, res := range results {
		code = max(code, res.ExitCode())
	}
	if code != 0 {
		os.Exit(code)
	}
	return nil
}

// adHocJob builds a job from flags, filling gaps from the terminal when
// --interactive is set.
func adHocJob(ctx context.Context, cmd *cobra.Command, r *runner.Runner, interactive bool) (runner.Job, error) {
	flags := cmd.Flags()
	server, _ := flags.GetString("server")
	share, _ := flags.GetString("share")
	ref, _ := flags.GetString("credential")

	if interactive {
		if !stdinIsTerminal() {
			return runner.Job{}, errors.New("--interactive needs a terminal on stdin")
		}
		answers, err := prompt.Ask(ctx, os.Stdin, os.Stderr, prompt.Answers{Server: server, Share: share})
		if err != nil {
			return runner.Job{}, err
		}
		server, share = answers.Server, answers.Share
		if c := answers.Credential(); c != nil {
			ref = r.Credentials().Put("prompt", *c)
		}
	}

	if err := credential.ValidateRef(ref); err != nil {
		return runner.Job{}, err
	}
	target, err := engine.NewTarget(server).Share(share).Credential(ref).Timeout(r.Settings().Timeout).Build()
	if err != nil {
		return runner.Job{}, err
	}
	return runner.Job{Target: target}, nil
}

func stdinIsTerminal() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}
