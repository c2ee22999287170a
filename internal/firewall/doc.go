// Package firewall compiles firewall specs into nftables tables and manages
// them inside network namespaces.
//
// # Architecture
//
//	FirewallSpec → Compile → CompiledConfig → Render → apply.Engine → nft -f
//
// # Key Types
//
//   - [CompiledConfig]: the chains and sets of one table, rendered last
//   - [Application]: closed set of precompiled rule bundles (ICMP, DNS, ...)
//   - [ScriptBuilder]: line builder for nft scripts
//   - [Manager]: build, read and scrub a table in a namespace
//   - [Inspector]: live table state, read over netlink
//
// # Chains
//
// Rules with only an input interface go to input, with only an output
// interface to output, and with both to forward. Global rules filter at
// prerouting or postrouting. DNAT and SNAT live in their own NAT chains with
// policy accept and are never merged with filter chains. Chains without
// rules are not emitted.
//
// input and forward always begin with an established/related accept.
package firewall
