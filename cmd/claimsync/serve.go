package main

import (
	"errors"
	"io/fs"

	"github.com/urfave/cli/v2"

	"ClaimSync/api"
	"ClaimSync/internal/appmanager"
	"ClaimSync/internal/jobs"
	"ClaimSync/internal/resource"
	"ClaimSync/internal/serviceiface"
	"ClaimSync/internal/store"
)

// defaultServices is used when no services.yaml is present.
var defaultServices = []appmanager.ServiceConfig{
	{Name: "audit", StartOrder: 1},
	{Name: "resourcemanager", StartOrder: 2},
	{Name: "cron", StartOrder: 3},
	{Name: "gateway", StartOrder: 4},
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP status surface and the scheduled inbox scan and reconciliation",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "migrate", Usage: "apply migrations before starting"},
		},
		Action: func(c *cli.Context) error {
			if c.Bool("migrate") {
				boot, _ := newEnvNoDB()
				if err := store.Migrate(boot.settings.Database.DSN(), boot.log.Child("migrate")); err != nil {
					return err
				}
			}

			e, err := newEnv(c.Context, false)
			if err != nil {
				return err
			}
			defer e.close()

			manager := appmanager.NewAppManager(e.constructors(), e.log.Child("appmanager"))
			seq, err := appmanager.LoadServiceSequence(e.settings.Server.ServicesFile)
			if errors.Is(err, fs.ErrNotExist) {
				e.log.Infof("no %s, starting the default services", e.settings.Server.ServicesFile)
				seq, err = defaultServices, nil
			}
			if err != nil {
				return err
			}
			if err := manager.AutoRegisterServices(seq); err != nil {
				return err
			}
			if err := manager.StartAll(); err != nil {
				return err
			}

			<-c.Context.Done()
			e.log.Infof("shutting down")
			return manager.StopAll()
		},
	}
}

func (e *env) constructors() map[string]appmanager.Constructor {
	resources := resource.New(e.audit, e.log.Child("resource"))
	resources.AddResource("postgres", e.store.Ping)

	return map[string]appmanager.Constructor{
		"audit": func(map[string]interface{}) (serviceiface.Service, error) {
			return e.audit, nil
		},
		"resourcemanager": func(cfg map[string]interface{}) (serviceiface.Service, error) {
			if e.settings.Reconcile.HISDSN != "" {
				his, err := e.hisDB()
				if err != nil {
					return nil, err
				}
				resources.AddResource("his", his.PingContext)
			}
			return resources, resources.Configure(cfg)
		},
		"gateway": func(cfg map[string]interface{}) (serviceiface.Service, error) {
			router := api.NewRouter(e.pipeline, e.store, resources, e.settings.Importer.InboxDir)
			return api.NewGatewayService(cfg, e.settings.Server.Port, router, e.log.Child("gateway")), nil
		},
		"cron": func(cfg map[string]interface{}) (serviceiface.Service, error) {
			source, _ := cfg["source"].(string)
			m, err := e.matcher(source)
			if err != nil {
				return nil, err
			}
			opts, err := e.reconcileOptions(nil, "", false, "")
			if err != nil {
				return nil, err
			}
			conf := jobs.NewCronConfig(e.settings, opts)
			conf.ApplyOverrides(cfg)
			return jobs.NewCronService(conf, e.pipeline, m, e.audit, e.log.Child("cron")), nil
		},
	}
}
