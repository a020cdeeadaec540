// Package logger expone un logger Zap único con scoping por contexto.
//
// Init se llama una vez desde el main; el middleware de logging inyecta un logger
// con request_id/method/path en el contexto y el resto del código usa From(ctx).
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "backoffice"})
//	defer logger.Sync()
//
//	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("Login"))
//	log.Info("otp validated", logger.UserID(u.ID))
package logger
