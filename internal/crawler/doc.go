// Package crawler defines the site-health domain shared by the probe,
// recorder, retention, worker, dispatcher, storage, and API packages: sites,
// probe outcomes, crawl results, the typed health report, and the
// collaborator interfaces each subsystem is wired through.
package crawler
