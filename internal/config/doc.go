// Package config holds the declarative model podnet builds from: firewall
// tables, namespace topologies and host interfaces.
//
// Parameter files are HCL (or JSON with the same shape):
//
//	firewall "ns1100" "main" {
//	  priority       = 0
//	  default_policy = "drop"
//
//	  rule {
//	    version  = 4
//	    sources  = ["any"]
//	    protocol = "tcp"
//	    ports    = ["22", "443"]
//	    action   = "accept"
//	    iiface   = "public0"
//	    order    = 10
//	  }
//
//	  nat {
//	    dnat {
//	      public  = "203.0.113.10"
//	      private = "10.0.0.10"
//	      iface   = "public0"
//	    }
//	  }
//	}
//
//	namespace "ns1100" {
//	  ipv4 {
//	    bridge    = "br4"
//	    addresses = ["203.0.113.10"]
//	    mask      = 24
//	    gateway   = "203.0.113.1"
//	  }
//	  network {
//	    vlan          = 1002
//	    private_range = "10.0.0.1/24"
//	  }
//	}
//
// All spec values are immutable once loaded; the compiler and the topology
// builder only read them.
package config
