/*
Package config loads named database configurations and resolves the
settings of individual collections.

	default: main
	configurations:
	  main:
	    region: us-east-1
	    endpoint: ${DDB_ENDPOINT}
	    database: "app_{part}"
	    resultLimit: 1000
	    autoClean: true
	    collections:
	      AuditEntry:
	        resultLimit: 0
	        cleanOnStartup: true

A collection binds through a storagemodels.DatabaseContext; unset fields fall
back to the default configuration and the entity type name.
*/
package config
