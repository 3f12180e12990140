// Command tagvault administers tag-indexed wallet storage from the command line.
//
// Usage:
//
//	# Create an instance in the default embedded backend
//	tagvault create wallet1
//
//	# Store an item with tags; binary values are base64
//	tagvault add wallet1 credential c1 --value aGVsbG8= --tags '{"name":"alice","~age":"30"}'
//
//	# Query it back
//	tagvault search wallet1 credential --query '{"~age":{"$gte":"18"}}'
//
//	# Copy an instance into postgres
//	tagvault migrate wallet1 --to-type postgres --to-config @pg.json --to-credentials @creds.json
package main

import "github.com/jmcleod/tagvault/cmd/tagvault/cmd"

func main() {
	cmd.Execute()
}
