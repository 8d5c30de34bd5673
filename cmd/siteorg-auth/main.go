package main

import (
	"context"
	"os"
	"runtime/debug"
	"time"

	"github.com/pterm/pterm"

	"github.com/Ilkenza/siteorg-auth/internal/assurance"
	"github.com/Ilkenza/siteorg-auth/internal/auth"
	"github.com/Ilkenza/siteorg-auth/internal/config"
	"github.com/Ilkenza/siteorg-auth/internal/logger"
	"github.com/Ilkenza/siteorg-auth/internal/mfa"
	"github.com/Ilkenza/siteorg-auth/internal/profile"
	"github.com/Ilkenza/siteorg-auth/internal/provider"
	"github.com/Ilkenza/siteorg-auth/internal/session"
	"github.com/Ilkenza/siteorg-auth/internal/tokencache"
	"github.com/Ilkenza/siteorg-auth/internal/tui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	Execute()
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "siteorg-auth",
	Short: "Sign in to Site Organizer from the terminal",
	Long: `siteorg-auth manages the Site Organizer session on this machine.
It signs you in, walks through two-factor verification when your account
requires it, and keeps the session cached for other tools to reuse.`,
	Run: runLogin,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in interactively",
	Run:   runLogin,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in account",
	Run:   runWhoami,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the cached session",
	Run:   runLogout,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	// Place version check in PreRun to ensure flags are parsed first
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			pterm.Info.Println(config.GetVersionInfo())
			os.Exit(0)
		}
	}

	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func init() {
	config.InitFlags()
	rootCmd.PersistentFlags().AddFlagSet(pflag.CommandLine)
	rootCmd.PersistentFlags().BoolP("version", "v", false, "Show version information")
	rootCmd.AddCommand(loginCmd, whoamiCmd, logoutCmd)
}

// buildApp assembles the auth core. The facade reaches the caller through
// the populate target once the app has started.
func buildApp(facade **auth.Facade, cfg **config.Config) *fx.App {
	return fx.New(
		fx.NopLogger,
		fx.Provide(
			config.Load,
			func(cfg *config.Config) (*zap.Logger, error) {
				if err := logger.InitLogger(&cfg.Logging); err != nil {
					return nil, err
				}
				return logger.GetLogger(), nil
			},
			func(cfg *config.Config) *config.ProviderConfig { return &cfg.Provider },
		),
		provider.Module,
		tokencache.Module,
		session.Module,
		assurance.Module,
		mfa.Module,
		profile.Module,
		auth.Module,
		fx.Populate(facade),
		fx.Populate(cfg),
	)
}

func startApp() (*fx.App, *auth.Facade, *config.Config) {
	var facade *auth.Facade
	var cfg *config.Config
	app := buildApp(&facade, &cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		pterm.Error.Printf("Failed to start: %v\n", err)
		os.Exit(1)
	}
	return app, facade, cfg
}

func stopApp(app *fx.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		pterm.Warning.Printf("Shutdown incomplete: %v\n", err)
	}
	_ = logger.Sync()
}

// runLogin is the main function that runs the TUI
func runLogin(cmd *cobra.Command, args []string) {
	defer func() {
		if r := recover(); r != nil {
			pterm.Error.Printf("\nCaught panic: %v\n", r)
			pterm.Error.Printf("%s\n", debug.Stack())
			os.Exit(2)
		}
	}()

	app, facade, _ := startApp()
	defer stopApp(app)

	model, unwatch := tui.NewAppModel(facade)
	defer unwatch()

	p := tea.NewProgram(model, tea.WithAltScreen())
	m, err := p.Run()
	if err != nil {
		pterm.Error.Printf("Error running program: %v\n", err)
		os.Exit(1)
	}

	finalModel := m.(tui.AppModel)
	if finalModel.IsSignedIn() {
		view := facade.CurrentView()
		if view.User != nil {
			pterm.Info.Printfln("Signed in as %s", pterm.LightGreen(view.User.Email))
		}
	}
}

func runWhoami(cmd *cobra.Command, args []string) {
	app, facade, cfg := startApp()
	defer stopApp(app)

	switch waitDecisive(facade, cfg.Auth.StartupTimeout) {
	case auth.PhaseAuthenticated:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Profile.Timeout)
		facade.RefreshUser(ctx)
		cancel()

		view := facade.CurrentView()
		if view.User == nil {
			pterm.Error.Println("Not signed in")
			os.Exit(1)
		}
		if view.User.Name != "" {
			pterm.Info.Printfln("%s <%s>", pterm.LightGreen(view.User.Name), view.User.Email)
		} else {
			pterm.Info.Println(pterm.LightGreen(view.User.Email))
		}

	case auth.PhaseMfaPending:
		pterm.Warning.Println("Additional verification required, run siteorg-auth to complete sign-in")
		os.Exit(1)

	default:
		pterm.Error.Println("Not signed in")
		os.Exit(1)
	}
}

func runLogout(cmd *cobra.Command, args []string) {
	app, facade, _ := startApp()
	defer stopApp(app)

	if facade.CurrentView().User == nil && waitDecisive(facade, 5*time.Second) == auth.PhaseUnauthenticated {
		pterm.Info.Println("Already signed out")
		return
	}

	facade.SignOut()
	// Give the best-effort server-side revoke a moment before exit.
	time.Sleep(300 * time.Millisecond)
	pterm.Info.Println("Signed out")
}

// waitDecisive blocks until the facade leaves its startup phase or the
// timeout passes.
func waitDecisive(facade *auth.Facade, timeout time.Duration) auth.Phase {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p := facade.Phase(); p != auth.PhaseStarting {
			return p
		}
		time.Sleep(50 * time.Millisecond)
	}
	return facade.Phase()
}
