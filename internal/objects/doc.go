// Package objects defines the remote object types served to clients and
// their validator schemes.
//
// Object tree per connection:
//
//	Root ("")
//	└── Host
//	    └── Store (one per named store, reused)
//	        └── Entry (snapshots, GC bucket "Entry")
package objects
