// Package gate makes the synchronous pre-dispatch decision for a
// lead. It reads current state and writes nothing but an audit row:
// five ordered checks, a hard-risk-only block, and a final disposition
// that depends on the organization's system mode.
package gate
