package main

// Version is the hold-admin version, overridden at build time.
var Version = "1.0.0"

// Gitref is the git reference hold-admin was built from, set at build time.
var Gitref string
