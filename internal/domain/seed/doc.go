// Package seed populates in-memory mounts from a YAML or TOML manifest.
//
// A manifest lists mounts by name, each with the directories, files and
// script executables to create:
//
//	mounts:
//	  - name: home
//	    dirs: [docs, bin]
//	    files:
//	      - path: docs/readme.txt
//	        content: hello
//	    scripts:
//	      - path: bin/upper.js
//	        source: stdout.write(arg.text.toUpperCase())
//	        params:
//	          - {name: text, type: string, required: true}
//
// A mount may also import a host directory and unpack a tar archive
// (.tar, .tar.gz or .tar.zst) before its listed entries are created.
// Relative host paths are resolved against the manifest's directory.
package seed
