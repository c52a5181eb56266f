// Package image manages checkpoint image directories.
//
// Each image lives in its own directory named by a ULID:
//
//	<images>/<id>/
//	  manifest.yaml   phase, pid, times, feature hash, CRIU settings
//	  manifest.sum    hex SHA-256 of manifest.yaml
//	  ids             the image ID; written last, marks the image complete
//	  criu.conf       options CRIU cannot take over RPC
//	  dump.log        CRIU dump log
//	  restore.log     CRIU restore log
//	  restored        restore generation, written before each restore
//	  *.img           CRIU image files
//
// An image without a matching ids file is incomplete and is never restored.
// Retention keeps the newest images by count and by age, and always keeps
// the newest one.
//
// @design DS-0102
package image
