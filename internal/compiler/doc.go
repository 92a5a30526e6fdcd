/*
Package compiler turns condition expressions and message templates into immutable trees.

Expressions support literals (numbers, quoted strings, true, false, null), property paths
with '.' and '[n]', the '$name' shorthand for 'dialog.name', the operators
'!', '&&', '||', '==', '!=', '<', '<=', '>', '>=', '+' and '-', parentheses, and function calls.
A leading '=' is ignored. Builtins: length, count, exists, empty, not, toLower, toUpper, concat, if.

Templates are plain text with ${expression} segments.
*/
package compiler
