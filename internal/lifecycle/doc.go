// Package lifecycle owns the process-wide embedding model and vector store.
//
// A Manager opens both once in Start and hands them out through a Runtime,
// the context object every operation receives. Close releases them and is
// safe to call on every exit path:
//
//	m, err := lifecycle.NewManager(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	rt, err := m.Start(ctx)
//	if err != nil {
//	    return err
//	}
//	resp, err := rt.Searcher.Search(ctx, searcher.SearchRequest{Query: "open a database"})
//
// Run wraps the same sequence for one-shot commands.
//
// A model that fails to load is retried once after a short delay; if it
// still fails, Start returns types.ErrModelUnavailable and Status reports
// the failure. The server starts the runtime in the background so status
// requests are answered while the model loads.
package lifecycle
