// Package media validates engine output files before delivery.
package media
