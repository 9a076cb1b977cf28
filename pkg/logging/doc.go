// Package logging provides subsystem-tagged structured logging for
// proccontrol, built on the standard slog package.
//
// # Usage
//
//	logging.Init(logging.LevelInfo, logging.FormatText, os.Stderr)
//
//	logging.Info("Controller", "Starting main loop")
//	logging.Debug("Registry", "Loaded %d workflow definitions", n)
//	logging.Warn("Reconciler", "Processing block %s vanished", pbID)
//	logging.Error("ConfigDB", err, "Commit failed")
//
// Every entry carries a "subsystem" attribute; Error additionally carries
// an "error" attribute.
//
// # controller-runtime
//
// Logr returns a logr.Logger over the same handler. The application passes
// it to ctrl.SetLogger so that the Kubernetes client used by the kubernetes
// config backend logs into the same stream.
package logging
