package canopy

// Version is the release of the canopy module, overridable at link time with
// -ldflags "-X github.com/aretw0/canopy.Version=...".
var Version = "0.1.0"
