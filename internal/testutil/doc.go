// Package testutil provides shared test helpers and fixtures.
//
// Philosophy:
// - Prefer real files and real SQLite (no mocks) for correctness.
// - Keep helpers small, composable, and deterministic.
// - Register cleanup via t.Cleanup / t.TempDir so tests stay leak-free.
//
// Integration-style tests usually start with:
//
//	h := testutil.NewHarness(t)
//	payload := testutil.MakeHookInput(t, "rm -rf ./build")
package testutil
