// Package files stores the artifacts the model layer hands out by path:
// generated debug reports and VM screenshots.
//
// A Store is rooted at one directory. Names are flat; any path separator or
// parent reference is rejected so a client-supplied identifier can never
// escape the root.
//
//	store, err := files.NewStore(cfg.DataPath("debugreports"), logger)
//	path, err := store.WriteFile("report1.txt", data)
package files
