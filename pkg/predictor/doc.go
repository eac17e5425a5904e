// Package predictor provides deterministic choosers for the decision engine.
//
// Production deployments plug a language-model backed ports.Predictor into the
// router. The choosers here need no model: they drive tests, the CLI and
// demos, and serve as a fallback when no model is configured.
package predictor
