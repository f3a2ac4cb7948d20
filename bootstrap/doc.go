// Package bootstrap wires configuration, storage, detection and the HTTP
// surface into a runnable application.
//
// Usage:
//
//	app, err := bootstrap.NewApp(ctx, bootstrap.Options{ConfigPath: path})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := app.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package bootstrap
