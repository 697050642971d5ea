// Package deduplication finds existing incidents that describe the same
// real-world problem as a newly reported one.
//
// Detection runs in two stages. The CandidateRetriever narrows the incident
// table with cheap structural filters (status, time window, asset, category,
// severity, radius). The Detector then embeds title, description and photos,
// scores every candidate with weighted cosine similarity and keeps the ones
// at or above the configured threshold, tagged with the reasons they matched.
//
// All thresholds, weights and windows live in Config, which is passed to the
// constructors so that differently tuned detectors can coexist.
package deduplication
