// Package logger expone un logger zap de proceso con scoping por contexto.
//
// Inicialización (una vez en main):
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})
//	defer logger.Sync()
//
// En handlers/services:
//
//	log := logger.From(ctx).With(logger.Layer("service"), logger.Component("federation"))
//	log.Info("profile synced", logger.Provider("GOOGLE"), logger.PrincipalName(name))
//
// "dev" escribe consola con colores, "prod" JSON.
package logger
