// Package triage is the business boundary for finding adjudication. It
// defines the verdict model, the fingerprint dedup scheme, the budget
// governor, the classifier engine, the verdict cache, the scheduler that
// drives findings through the pipeline under the token budget.
package triage
