// Package bootstrap wires the indicator server: logger, configuration,
// MongoDB repositories, the indicator and import services, the optional
// triage dispatcher and the HTTP API.
//
// Usage:
//
//	app, err := bootstrap.NewApp(ctx, configPath)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := app.Start(ctx); err != nil {
//	    app.Shutdown()
//	    log.Fatal(err)
//	}
//	app.WaitForShutdown()
//	app.Shutdown()
package bootstrap
