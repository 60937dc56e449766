package harness

// Version is the release of the module. Builds override it with
// -ldflags "-X github.com/Open-Harness/open-harness-sub011.Version=...".
var Version = "0.1.0-dev"
