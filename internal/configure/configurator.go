package configure

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/terabiome/nodeboot/internal/config"
	"github.com/terabiome/nodeboot/internal/metadata"
	"github.com/terabiome/nodeboot/internal/node"
	"github.com/terabiome/nodeboot/internal/userdata"
	"github.com/terabiome/nodeboot/pkg/executor"
)

const tracerName = "github.com/terabiome/nodeboot/internal/configure"

// Configurator runs the first-boot sequence: merge the node config from
// user data and defaults, then run the optional post-configuration script.
type Configurator struct {
	cfg    *config.Config
	meta   *metadata.Client
	runner *executor.ScriptRunner
	logger *slog.Logger
	now    func() time.Time
}

func New(cfg *config.Config, meta *metadata.Client, runner *executor.ScriptRunner, logger *slog.Logger) *Configurator {
	return &Configurator{
		cfg:    cfg,
		meta:   meta,
		runner: runner,
		logger: logger.With(slog.String("component", "configure")),
		now:    time.Now,
	}
}

// FetchUserData retrieves and parses the instance user data. Both a failed
// fetch and a malformed body fall back to an empty document; neither is
// fatal to the run.
func (c *Configurator) FetchUserData(ctx context.Context) userdata.UserData {
	raw, err := c.meta.UserData(ctx)
	if err != nil {
		c.logger.Warn("unable to fetch user data, using defaults",
			slog.String("error", err.Error()),
		)
		return userdata.UserData{}
	}

	ud, err := userdata.Parse(raw)
	if err != nil {
		c.logger.Warn("error parsing user data, using defaults",
			slog.String("error", err.Error()),
		)
		return userdata.UserData{}
	}

	return ud
}

// MergeNodeConfig builds the final node config: user-data overrides win,
// then built-in defaults for every key the operator did not override, then
// whatever the template already had. The pristine template is preserved at
// the .example path before the merged document is written.
func (c *Configurator) MergeNodeConfig(ctx context.Context, ud userdata.UserData) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "merge-node-config")
	defer span.End()

	privateIP, err := c.meta.LocalIPv4(ctx)
	if err != nil {
		return fmt.Errorf("unable to resolve instance private IP: %w", err)
	}

	nodeCfg, err := node.Load(c.cfg.NodeConfigPath)
	if err != nil {
		return err
	}

	if len(ud.ScyllaYAML) > 0 {
		c.logger.Info("setting params from user data")
		for param, value := range ud.ScyllaYAML {
			c.logger.Info("setting param",
				slog.String("param", param),
				slog.Any("value", value),
			)
			nodeCfg[param] = value
		}
	}

	c.logger.Info("setting image default params")
	for param, value := range node.Defaults(privateIP, c.now()) {
		if _, overridden := ud.ScyllaYAML[param]; overridden {
			continue
		}
		c.logger.Info("setting param",
			slog.String("param", param),
			slog.Any("value", value),
		)
		nodeCfg[param] = value
	}

	backupPath, err := node.Backup(c.cfg.NodeConfigPath)
	if err != nil {
		return err
	}
	c.logger.Info("preserved node config template", slog.String("path", backupPath))

	if err := nodeCfg.Save(c.cfg.NodeConfigPath); err != nil {
		return err
	}
	c.logger.Info("saved node config", slog.String("path", c.cfg.NodeConfigPath))

	return nil
}

// RunPostConfigurationScript decodes and runs the operator's script, if any.
// A script that cannot be decoded is logged and skipped; a script that fails
// to run, exits non-zero or times out fails the whole run.
func (c *Configurator) RunPostConfigurationScript(ctx context.Context, ud userdata.UserData) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "post-configuration-script")
	defer span.End()

	script, err := ud.Script()
	if err != nil {
		c.logger.Error("cannot decode post configuration script, skipping",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if len(script) == 0 {
		return nil
	}

	timeout := ud.ScriptTimeout()
	c.logger.Info("running post configuration script",
		slog.Duration("timeout", timeout),
		slog.String("script", string(script)),
	)

	if _, err := c.runner.Run(ctx, script, timeout); err != nil {
		return fmt.Errorf("post configuration script failed: %w", err)
	}

	return nil
}

// ConfigureStartupArgs is a reserved extension point for tuning the node's
// startup arguments. No current behavior.
func (c *Configurator) ConfigureStartupArgs(ud userdata.UserData) {
	if len(ud.ScyllaStartupArgs) > 0 {
		c.logger.Info("startup args present in user data but not acted on",
			slog.Any("args", ud.ScyllaStartupArgs),
		)
	}
}

// SetDeveloperMode is a reserved extension point for toggling developer
// mode. No current behavior.
func (c *Configurator) SetDeveloperMode(ud userdata.UserData) {
	if ud.DeveloperMode {
		c.logger.Info("developer mode requested in user data but not acted on")
	}
}

// StartNodeService is a reserved extension point for starting the node
// service after configuration. The service is stopped by default when the
// image is built. No current behavior.
func (c *Configurator) StartNodeService(ud userdata.UserData) {
	if ud.StartScyllaAfterConfig {
		c.logger.Info("service start requested in user data but not acted on")
	}
}

// Configure runs the full first-boot sequence in order. The first failing
// step stops the run; the caller maps the error to the process exit code.
func (c *Configurator) Configure(ctx context.Context) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "configure")
	defer span.End()

	ud := c.FetchUserData(ctx)

	if err := c.MergeNodeConfig(ctx, ud); err != nil {
		return err
	}

	c.ConfigureStartupArgs(ud)
	c.SetDeveloperMode(ud)

	if err := c.RunPostConfigurationScript(ctx, ud); err != nil {
		return err
	}

	c.StartNodeService(ud)

	return nil
}
